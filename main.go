package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dovechat/dovechat/api"
	"github.com/dovechat/dovechat/chat"
	"github.com/dovechat/dovechat/config"
	"github.com/dovechat/dovechat/friends"
	"github.com/dovechat/dovechat/models"
	"github.com/dovechat/dovechat/realtime"
	"github.com/dovechat/dovechat/session"
)

var rootCmd = &cobra.Command{
	Use:   "dovechat",
	Short: "Terminal client for the dovechat backend",
	RunE:  runClient,
}

var (
	flagBackendURL string
	flagTokenFile  string
)

const bannerDelay = 3 * time.Second

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagBackendURL, "backend-url", "", "backend origin (overrides DOVECHAT_BACKEND_URL)")
	flags.StringVar(&flagTokenFile, "token-file", "", "path of the persisted credential (overrides DOVECHAT_TOKEN_FILE)")
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if flagBackendURL != "" {
		cfg.BackendURL = strings.TrimRight(flagBackendURL, "/")
	}
	if flagTokenFile != "" {
		cfg.TokenFile = flagTokenFile
	}
	if cfg, err = cfg.Validate(); err != nil {
		return err
	}

	sess := session.NewStore(session.FilePersistence{Path: cfg.TokenFile})
	sess.Restore()

	gw, err := api.NewGateway(cfg, sess, api.WithAuthExpiredHook(func() {
		fmt.Println("! session expired, please log in again")
	}))
	if err != nil {
		return err
	}

	lines := readLines(ctx)

	if !sess.Authenticated() {
		if err := authFlow(ctx, gw, sess, lines); err != nil {
			return err
		}
	}

	profile, err := gw.FetchProfile(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch profile")
	}
	fmt.Printf("signed in as %s <%s>\n", profile.Name, profile.Email)

	wsURL, err := cfg.WebsocketURL()
	if err != nil {
		return err
	}
	ch := realtime.NewChannel(wsURL, sess)
	friendStore := friends.NewStore(gw, profile.ID)
	reconciler := chat.NewReconciler(gw, profile.ID)

	// Session loss tears everything down before anything may reconnect.
	sess.OnClear(func() {
		ch.Close()
		friendStore.Reset()
		reconciler.Reset()
	})

	if err := ch.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("[client] realtime channel unavailable; chat stays REST-only")
	}
	friendStore.Attach(ch)
	reconciler.Attach(ch)

	render := newRenderer(profile.ID)
	reconciler.OnChange(func() { render.conversation(reconciler) })

	if err := friendStore.Load(ctx, ""); err != nil {
		log.Warn().Err(err).Msg("[client] load friends")
	}
	if notes, err := gw.FetchNotifications(ctx); err == nil {
		for _, n := range notes {
			fmt.Println("* " + n)
		}
	}

	fmt.Println(`type /help for commands, plain text sends to the open conversation`)
	err = commandLoop(ctx, lines, gw, sess, friendStore, reconciler, profile)
	ch.Close()
	return err
}

// readLines pumps stdin into a channel so the loop can also observe ctx.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func prompt(ctx context.Context, lines <-chan string, label string) (string, bool) {
	fmt.Print(label)
	select {
	case line, ok := <-lines:
		return strings.TrimSpace(line), ok
	case <-ctx.Done():
		return "", false
	}
}

// authFlow mirrors the login/register screen: register never authenticates,
// it shows a success banner and falls back to login.
func authFlow(ctx context.Context, gw *api.Gateway, sess *session.Store, lines <-chan string) error {
	for {
		choice, ok := prompt(ctx, lines, "login or register? [l/r] ")
		if !ok {
			return ctx.Err()
		}
		switch choice {
		case "r", "register":
			name, _ := prompt(ctx, lines, "name: ")
			email, _ := prompt(ctx, lines, "email: ")
			password, _ := prompt(ctx, lines, "password: ")
			if s := passwordStrength(password); s != "" {
				fmt.Println("password strength: " + s)
			}
			confirm, ok := prompt(ctx, lines, "confirm password: ")
			if !ok {
				return ctx.Err()
			}
			if err := gw.Register(ctx, name, email, password, confirm); err != nil {
				fmt.Println("registration failed: " + err.Error())
				continue
			}
			fmt.Println("Registration successful! Please log in.")
			time.Sleep(bannerDelay)
		case "l", "login", "":
			email, _ := prompt(ctx, lines, "email: ")
			password, ok := prompt(ctx, lines, "password: ")
			if !ok {
				return ctx.Err()
			}
			token, err := gw.Login(ctx, email, password)
			if err != nil {
				fmt.Println("login failed: " + err.Error())
				continue
			}
			if err := sess.Establish(token); err != nil {
				return err
			}
			return nil
		default:
			continue
		}
	}
}

// passwordStrength is a pure hint for the registration form.
func passwordStrength(password string) string {
	if password == "" {
		return ""
	}
	if len(password) < 6 {
		return "Weak"
	}
	hasUpper := strings.ContainsFunc(password, func(r rune) bool { return r >= 'A' && r <= 'Z' })
	hasDigit := strings.ContainsFunc(password, func(r rune) bool { return r >= '0' && r <= '9' })
	if len(password) < 10 || !hasUpper || !hasDigit {
		return "Medium"
	}
	return "Strong"
}

func commandLoop(ctx context.Context, lines <-chan string, gw *api.Gateway, sess *session.Store,
	friendStore *friends.Store, reconciler *chat.Reconciler, profile models.Profile) error {
	for {
		var line string
		var ok bool
		select {
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			reconciler.SendTyping()
			if err := reconciler.Send(ctx, line); err != nil {
				if errors.Is(err, api.ErrAuthExpired) {
					return nil
				}
				fmt.Println("send failed: " + err.Error())
			}
			continue
		}

		fields := strings.Fields(line)
		cmd, rest := fields[0], fields[1:]
		var err error
		switch cmd {
		case "/help":
			printHelp()
		case "/friends":
			err = friendStore.Load(ctx, strings.Join(rest, " "))
			for _, e := range friendStore.Accepted() {
				fmt.Printf("  %d  %s (%s)\n", e.PeerID, e.DisplayName(), e.Status)
			}
		case "/requests":
			for _, e := range friendStore.Pending() {
				fmt.Printf("  request %d from %s\n", e.RequestID, e.DisplayName())
			}
		case "/accept":
			if id, ok := parseID(rest); ok {
				err = friendStore.Accept(ctx, id)
			}
		case "/reject":
			if id, ok := parseID(rest); ok {
				err = friendStore.Reject(ctx, id)
			}
		case "/add":
			if id, ok := parseID(rest); ok {
				err = gw.SendFriendRequest(ctx, id)
			}
		case "/search":
			var users []models.User
			users, err = gw.SearchUsers(ctx, strings.Join(rest, " "))
			for _, u := range users {
				fmt.Printf("  %d  %s %s <%s>\n", u.ID, u.Name, u.Lastname, u.Email)
			}
		case "/open":
			if id, ok := parseID(rest); ok {
				err = reconciler.Select(ctx, id)
			}
		case "/profile":
			var p models.Profile
			if p, err = gw.FetchProfile(ctx); err == nil {
				fmt.Printf("  %s %s <%s>  bio: %s\n", p.Name, p.Lastname, p.Email, p.Bio)
			}
		case "/bio":
			err = gw.UpdateProfileInfo(ctx, models.ProfileUpdate{
				Name:     profile.Name,
				Lastname: profile.Lastname,
				Bio:      strings.Join(rest, " "),
			})
		case "/passwd":
			if len(rest) == 2 {
				err = gw.UpdatePassword(ctx, rest[0], rest[1])
			}
		case "/email":
			if len(rest) == 1 {
				err = gw.UpdateEmail(ctx, rest[0])
				fmt.Println("verification code sent; confirm with /confirm <code>")
			}
		case "/confirm":
			if len(rest) == 1 {
				err = gw.ConfirmEmail(ctx, rest[0])
			}
		case "/picture":
			if len(rest) == 1 {
				err = uploadPicture(ctx, gw, rest[0])
			}
		case "/notifications":
			var notes []string
			if notes, err = gw.FetchNotifications(ctx); err == nil {
				for _, n := range notes {
					fmt.Println("* " + n)
				}
			}
		case "/logout":
			if err := gw.Logout(ctx); err != nil {
				log.Warn().Err(err).Msg("[client] logout request failed")
			}
			sess.Clear()
			return nil
		case "/quit":
			return nil
		default:
			fmt.Println("unknown command " + cmd)
		}
		if err != nil {
			if errors.Is(err, api.ErrAuthExpired) {
				return nil
			}
			fmt.Println("error: " + err.Error())
		}
	}
}

func parseID(rest []string) (int64, bool) {
	if len(rest) != 1 {
		fmt.Println("expected one numeric id")
		return 0, false
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		fmt.Println("bad id " + rest[0])
		return 0, false
	}
	return id, true
}

func uploadPicture(ctx context.Context, gw *api.Gateway, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	ref, err := gw.UpdateProfilePicture(ctx, f.Name(), f)
	if err == nil {
		fmt.Println("picture stored as " + ref)
	}
	return err
}

func printHelp() {
	fmt.Print(`  /friends [search]   list accepted friends
  /requests           list pending friend requests
  /accept <id>        accept a request
  /reject <id>        reject a request
  /add <id>           send a friend request
  /search <keyword>   search users
  /open <id>          open the conversation with a friend
  /profile            show profile
  /bio <text>         update bio
  /passwd <old> <new> change password
  /email <new>        start email change
  /confirm <code>     confirm email change
  /picture <path>     upload profile picture
  /notifications      show notifications
  /logout             log out and quit
  /quit               quit
`)
}

// renderer prints only what changed since the last conversation update.
type renderer struct {
	userID  int64
	printed int
	typing  bool
}

func newRenderer(userID int64) *renderer {
	return &renderer{userID: userID}
}

func (r *renderer) conversation(rec *chat.Reconciler) {
	msgs := rec.Messages()
	if len(msgs) < r.printed {
		// View was rebuilt for a new peer.
		r.printed = 0
	}
	for _, m := range msgs[r.printed:] {
		who := fmt.Sprintf("user %d", m.SenderID)
		if m.SenderID == r.userID {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), who, m.Body)
	}
	r.printed = len(msgs)

	if typing := rec.PeerTyping(); typing != r.typing {
		r.typing = typing
		if typing {
			fmt.Println("... peer is typing")
		}
	}
}
