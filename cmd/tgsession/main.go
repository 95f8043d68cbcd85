// Command tgsession performs the one-time interactive Telegram login and
// writes the session file the collector daemon reuses. It prompts for the
// phone number, the login code, and the 2FA password when set.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gotd/td/session"
	tgclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"

	"tgcollector/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tgsession:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := tgclient.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, tgclient.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath()},
	})

	flow := auth.NewFlow(terminalPrompt{in: bufio.NewReader(os.Stdin)}, auth.SendCodeOptions{})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("authorize: %w", err)
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("fetch self: %w", err)
		}
		fmt.Printf("Session saved to %s (logged in as %s %s)\n",
			cfg.SessionPath(), self.FirstName, self.LastName)
		return nil
	})
}

// terminalPrompt asks for credentials on stdin.
type terminalPrompt struct {
	in *bufio.Reader
}

func (p terminalPrompt) Phone(_ context.Context) (string, error) {
	return p.ask("Phone number (international format): ")
}

func (p terminalPrompt) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return p.ask("Login code: ")
}

func (p terminalPrompt) Password(_ context.Context) (string, error) {
	return p.ask("2FA password: ")
}

func (p terminalPrompt) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (p terminalPrompt) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, fmt.Errorf("sign-up is not supported: use an existing account")
}

func (p terminalPrompt) ask(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
