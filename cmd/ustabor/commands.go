package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odilbekov/ustabor/internal/api"
	"github.com/odilbekov/ustabor/internal/auth"
	"github.com/odilbekov/ustabor/internal/chat"
	"github.com/odilbekov/ustabor/internal/config"
	"github.com/odilbekov/ustabor/internal/domain"
	"github.com/odilbekov/ustabor/internal/market"
	"github.com/odilbekov/ustabor/internal/store"
)

type app struct {
	cfg      *config.Config
	store    store.Store
	auth     *auth.Service
	chat     *chat.Service
	market   *market.Service
	sessions *auth.SessionManager
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.cmdLogin(ctx, args)
	case "register":
		return a.cmdRegister(ctx)
	case "logout":
		a.sessions.EndSession(ctx)
		fmt.Println("Signed out.")
		return nil
	case "whoami":
		return a.cmdWhoami(ctx)
	case "masters":
		return a.cmdMasters(ctx, args)
	case "master":
		return a.cmdMaster(ctx, args)
	case "announcements":
		return a.cmdAnnouncements(ctx, args)
	case "announcement":
		return a.cmdAnnouncement(ctx, args)
	case "chats":
		return a.cmdChats(ctx)
	case "chat":
		return a.cmdChat(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	google := fs.Bool("google", false, "sign in via Google in the browser")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *google {
		return a.googleLogin(ctx)
	}

	reader := bufio.NewReader(os.Stdin)
	if *username == "" {
		fmt.Print("Username: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		*username = strings.TrimSpace(line)
	}
	if *password == "" {
		fmt.Print("Password: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		*password = strings.TrimSpace(line)
	}

	user, err := a.auth.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	a.sessions.SetSession(user)
	fmt.Printf("Signed in as %s (%s)\n", user.DisplayName(), user.Role)
	return nil
}

func (a *app) googleLogin(ctx context.Context) error {
	lb, err := auth.StartLoopback("127.0.0.1:0")
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := lb.Close(); closeErr != nil && closeErr != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "loopback shutdown:", closeErr)
		}
	}()

	fmt.Println("Complete the Google sign-in in your browser.")
	fmt.Println("Redirect URL for the OAuth client:", lb.URL())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	providerToken, err := lb.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("waiting for browser sign-in: %w", err)
	}

	user, err := a.auth.GoogleLogin(ctx, providerToken)
	if err != nil {
		return err
	}
	a.sessions.SetSession(user)
	fmt.Printf("Signed in as %s (%s)\n", user.DisplayName(), user.Role)
	return nil
}

func (a *app) cmdRegister(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) (string, error) {
		fmt.Print(label + ": ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return strings.TrimSpace(line), nil
	}

	data := auth.RegisterData{}
	var err error
	if data.Username, err = prompt("Username"); err != nil {
		return err
	}
	if data.Email, err = prompt("Email"); err != nil {
		return err
	}
	if data.Password, err = prompt("Password"); err != nil {
		return err
	}
	role, err := prompt("Role (CLIENT/MASTER)")
	if err != nil {
		return err
	}
	switch strings.ToUpper(role) {
	case string(domain.RoleMaster):
		data.Role = domain.RoleMaster
	default:
		data.Role = domain.RoleClient
	}
	if data.FirstName, err = prompt("First name (optional)"); err != nil {
		return err
	}
	if data.LastName, err = prompt("Last name (optional)"); err != nil {
		return err
	}
	if data.PhoneNumber, err = prompt("Phone number (optional)"); err != nil {
		return err
	}

	user, err := a.auth.Register(ctx, data)
	if err != nil {
		return err
	}
	a.sessions.SetSession(user)
	fmt.Printf("Account created. Signed in as %s (%s)\n", user.DisplayName(), user.Role)
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	if !a.sessions.Reconcile(ctx) {
		if err := a.sessions.Err(); err != nil {
			return fmt.Errorf("not signed in: %w", err)
		}
		fmt.Println("Not signed in.")
		return nil
	}

	s := a.sessions.Session()
	fmt.Printf("%s (%s)\n", s.User.DisplayName(), s.User.Role)
	fmt.Printf("  id:    %d\n", s.User.ID)
	fmt.Printf("  email: %s\n", s.User.Email)
	return nil
}

func (a *app) cmdMasters(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("masters", flag.ContinueOnError)
	page := fs.Int("page", 1, "result page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := a.market.Masters(ctx, *page, nil)
	if err != nil {
		return err
	}
	fmt.Printf("%d masters (page %d):\n", result.Count, *page)
	for i := range result.Results {
		m := &result.Results[i]
		online := ""
		if m.IsOnline {
			online = " [online]"
		}
		fmt.Printf("  %6d  %-24s %+d%s\n", m.ID, m.DisplayName(), m.LikeCount-m.DislikeCount, online)
	}
	return nil
}

func (a *app) cmdMaster(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ustabor master <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid master id %q", args[0])
	}

	m, err := a.market.Master(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s (@%s)\n", m.DisplayName(), m.Username)
	fmt.Printf("  likes: %d  dislikes: %d\n", m.LikeCount, m.DislikeCount)
	for _, ind := range m.Industries {
		fmt.Printf("  - %s (%.0f, %.1f stars)\n", ind.Name, ind.Price, ind.Star)
	}
	return nil
}

func (a *app) cmdAnnouncements(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("announcements", flag.ContinueOnError)
	page := fs.Int("page", 1, "result page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := a.market.Announcements(ctx, *page, nil)
	if err != nil {
		return err
	}
	fmt.Printf("%d announcements (page %d):\n", result.Count, *page)
	for i := range result.Results {
		ann := &result.Results[i]
		fmt.Printf("  %-12s  %s — %s\n", ann.ID, ann.Title, ann.Client.DisplayName())
	}
	return nil
}

func (a *app) cmdAnnouncement(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: ustabor announcement <id>")
	}

	ann, err := a.market.Announcement(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(ann.Title)
	fmt.Printf("  by:      %s\n", ann.Client.DisplayName())
	fmt.Printf("  address: %s\n", ann.Address)
	fmt.Printf("  posted:  %s\n", ann.CreatedAt.Local().Format("2 Jan 2006"))
	if ann.Description != "" {
		fmt.Println()
		fmt.Println(ann.Description)
	}
	return nil
}

func (a *app) cmdChats(ctx context.Context) error {
	if !a.sessions.Reconcile(ctx) {
		return fmt.Errorf("sign in to view conversations")
	}
	viewer := a.sessions.Session()

	previews, err := a.chat.ActiveChats(ctx)
	if err != nil {
		return err
	}
	if len(previews) == 0 {
		fmt.Println("No active conversations.")
		return nil
	}

	for i := range previews {
		p := &previews[i]
		partner := p.Partner(viewer.UserID())
		unread := ""
		if p.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", p.UnreadCount)
		}
		fmt.Printf("%-24s %s%s\n", partner.DisplayName(), p.LastMessageTime.Local().Format("2 Jan 15:04"), unread)
		fmt.Printf("    %s\n", p.LastMessage)
		fmt.Printf("    open: ustabor chat %s %d %d\n", p.AnnouncementID, p.MasterID, p.ClientID)
	}
	return nil
}

func (a *app) cmdChat(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: ustabor chat <announcement> <master> <client>")
	}
	masterID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid master id %q", args[1])
	}
	clientID, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid client id %q", args[2])
	}
	key := domain.ConversationKey{AnnouncementID: args[0], MasterID: masterID, ClientID: clientID}

	if !a.sessions.Reconcile(ctx) {
		return fmt.Errorf("sign in to open a conversation")
	}
	viewer := a.sessions.Session()

	view, err := chat.NewView(key, viewer)
	if err != nil {
		if api.IsForbidden(err) {
			fmt.Println("You do not have access to this conversation.")
			return nil
		}
		return err
	}

	history, err := a.chat.History(ctx, key)
	if err != nil {
		return err
	}
	view.SetHistory(history)
	printConversation(view)

	channel, err := a.chat.OpenChannel(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := channel.Close(); closeErr != nil {
			fmt.Fprintln(os.Stderr, "channel close:", closeErr)
		}
	}()

	fmt.Println("-- connected; type a message, /image <path> to send a picture, Ctrl+D to leave --")

	go func() {
		for ev := range channel.Events() {
			msg := view.Append(ev)
			a.chat.CacheLive(ctx, key, msg)
			printMessage(view, &msg)
		}
		if err := channel.Err(); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Connection lost. Reopen the conversation to continue.")
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if path, ok := strings.CutPrefix(line, "/image "); ok {
			if err := a.sendImage(ctx, channel, strings.TrimSpace(path)); err != nil {
				fmt.Fprintln(os.Stderr, "Image not sent:", err)
			}
			continue
		}

		if err := channel.Send(ctx, line); err != nil {
			// The typed text stays in the terminal scrollback; nothing
			// was transmitted.
			fmt.Fprintln(os.Stderr, "Message not sent:", err)
		}
	}
	return scanner.Err()
}

const maxImageBytes = 5 << 20

func (a *app) sendImage(ctx context.Context, channel *chat.Channel, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return fmt.Errorf("image exceeds 5MB limit")
	}

	mime := "image/jpeg"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		mime = "image/png"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}
	encoded := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	return channel.SendImage(ctx, encoded)
}

func printConversation(view *chat.View) {
	partner := "..."
	if p := view.Partner(); p != nil {
		partner = p.DisplayName()
	}
	fmt.Printf("Conversation with %s\n", partner)

	for _, group := range view.DayGroups() {
		fmt.Printf("--- %s ---\n", group.Date.Format("2 January 2006"))
		for i := range group.Messages {
			printMessage(view, &group.Messages[i])
		}
	}
}

func printMessage(view *chat.View, msg *domain.Message) {
	who := "them"
	if view.IsMine(msg) {
		who = "you"
	}
	body := msg.Text
	if msg.Image != "" {
		if body != "" {
			body += " "
		}
		body += "[image]"
	}
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04"), who, body)
}
