// Command stepgatectl manages accounts in the credential store:
//
//	stepgatectl create-user -username alice -email alice@example.com
//	stepgatectl set-type -username alice -type totp
//	stepgatectl enroll-totp -username alice -qr alice.png
//
// It reads the same environment as the API server.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BradenHooton/stepgate/internal/auth"
	"github.com/BradenHooton/stepgate/internal/config"
	"github.com/BradenHooton/stepgate/internal/database"
	"github.com/BradenHooton/stepgate/internal/models"
	"github.com/BradenHooton/stepgate/internal/repositories"
	"github.com/BradenHooton/stepgate/internal/services"
	"github.com/BradenHooton/stepgate/migrations"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: stepgatectl <create-user|set-type|enroll-totp> [flags]")
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return errors.New("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return err
	}

	users := services.NewUserService(repositories.NewUserRepository(db), auth.NewTimingDelay(auth.TimingConfig{}), logger)

	switch args[0] {
	case "create-user":
		return createUser(ctx, users, args[1:], stdin, stdout)
	case "set-type":
		return setType(ctx, users, cfg, args[1:], stdout)
	case "enroll-totp":
		return enrollTOTP(ctx, users, cfg, args[1:], stdout)
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func createUser(ctx context.Context, users *services.UserService, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	username := fs.String("username", "", "account username")
	email := fs.String("email", "", "address for codes and lockout notifications")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}

	password := os.Getenv("STEPGATE_PASSWORD")
	if password == "" {
		fmt.Fprint(stdout, "password: ")
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	user, err := users.CreateUser(ctx, *username, strings.ToLower(strings.TrimSpace(*email)), password)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return fmt.Errorf("user %q already exists", *username)
		}
		return err
	}

	fmt.Fprintf(stdout, "created user %s (%s)\n", user.Username, user.ID)
	return nil
}

func setType(ctx context.Context, users *services.UserService, cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("set-type", flag.ContinueOnError)
	username := fs.String("username", "", "account username")
	tag := fs.String("type", "", "strategy tag, empty restores the default")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}
	if *tag != "" && !cfg.TwoFactor.HasType(*tag) {
		return fmt.Errorf("type %q is not one of TWOFACTOR_TYPES %v", *tag, cfg.TwoFactor.Types)
	}

	if err := users.SetTwoFactorType(ctx, *username, *tag); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "two-factor type of %s set to %q\n", *username, *tag)
	return nil
}

func enrollTOTP(ctx context.Context, users *services.UserService, cfg *config.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("enroll-totp", flag.ContinueOnError)
	username := fs.String("username", "", "account username")
	qrPath := fs.String("qr", "", "write the enrollment QR code PNG to this path")
	qrSize := fs.Int("qr-size", 256, "QR code size in pixels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return errors.New("-username is required")
	}
	if len(cfg.TwoFactor.TOTPEncryptionKey) == 0 {
		return errors.New("TOTP_ENCRYPTION_KEY is not set")
	}

	manager, err := auth.NewTOTPManager(cfg.TwoFactor.TOTPEncryptionKey, cfg.TwoFactor.TOTPIssuer)
	if err != nil {
		return err
	}

	enrollment, err := users.EnrollTOTP(ctx, *username, manager, *qrSize)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "secret: %s\nurl: %s\n", enrollment.Secret, enrollment.URL)

	if *qrPath != "" {
		if err := os.WriteFile(*qrPath, enrollment.QRCodePNG, 0o600); err != nil {
			return fmt.Errorf("write QR code: %w", err)
		}
		fmt.Fprintf(stdout, "QR code written to %s\n", *qrPath)
	}

	return nil
}
