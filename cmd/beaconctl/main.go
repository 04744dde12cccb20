// main.go - Admin control tool for beaconly
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"gorm.io/gorm"

	"beaconly/internal"
	"beaconly/internal/services"
	"beaconly/internal/tracker"
	"beaconly/internal/users"

	"log/slog"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&CreateOwnerCommand{},
	&ChangePasswordCommand{},
	&CreateServiceCommand{},
	&ArchiveServiceCommand{},
	&MigrateCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// CreateOwnerCommand creates an owner account services can be assigned to
type CreateOwnerCommand struct{}

func (c *CreateOwnerCommand) Name() string        { return "create-owner" }
func (c *CreateOwnerCommand) Description() string { return "Creates an owner account" }

func (c *CreateOwnerCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := connection(app)
	if err != nil {
		return err
	}

	email, err := argOrPrompt(args, 0, "Enter owner email: ")
	if err != nil {
		return err
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	password, err := promptPasswordConfirmed()
	if err != nil {
		return err
	}

	if _, err := users.CreateUser(db, email, password); err != nil {
		if errors.Is(err, users.ErrUserExists) {
			log.Printf("User %s already exists", email)
			return nil
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("Owner %s created", email)
	return nil
}

// ChangePasswordCommand updates the password of an existing owner
type ChangePasswordCommand struct{}

func (c *ChangePasswordCommand) Name() string        { return "change-password" }
func (c *ChangePasswordCommand) Description() string { return "Changes an owner's password" }

func (c *ChangePasswordCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := connection(app)
	if err != nil {
		return err
	}

	email, err := argOrPrompt(args, 0, "Enter owner email: ")
	if err != nil {
		return err
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	if _, err := users.FindByEmail(db, email); err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	password, err := promptPasswordConfirmed()
	if err != nil {
		return err
	}

	if err := users.ChangePassword(db, email, password); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Println("Password updated successfully")
	return nil
}

// CreateServiceCommand registers a tracked site under an owner
type CreateServiceCommand struct{}

func (c *CreateServiceCommand) Name() string        { return "create-service" }
func (c *CreateServiceCommand) Description() string { return "Registers a tracked service" }

func (c *CreateServiceCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("create-service", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner email")
	name := fs.String("name", "", "service display name")
	link := fs.String("link", "", "service URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *owner == "" || *name == "" {
		return fmt.Errorf("usage: %s -owner <email> -name <name> [-link <url>]", c.Name())
	}

	db, err := connection(app)
	if err != nil {
		return err
	}

	user, err := users.FindByEmail(db, *owner)
	if err != nil {
		return fmt.Errorf("owner lookup failed: %w", err)
	}

	service := &services.Service{
		Name:    *name,
		Link:    *link,
		OwnerID: user.ID,
	}
	if err := services.CreateService(slog.Default(), db, service); err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	fmt.Printf("Service created: %s\n", service.UUID)
	return nil
}

// ArchiveServiceCommand stops ingestion for a service, keeping its history
type ArchiveServiceCommand struct{}

func (c *ArchiveServiceCommand) Name() string        { return "archive-service" }
func (c *ArchiveServiceCommand) Description() string { return "Archives a service by UUID" }

func (c *ArchiveServiceCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <service-uuid>", c.Name())
	}

	db, err := connection(app)
	if err != nil {
		return err
	}

	if err := services.ArchiveService(slog.Default(), db, args[0]); err != nil {
		return fmt.Errorf("failed to archive service: %w", err)
	}

	fmt.Printf("Service %s archived\n", args[0])
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := connection(app)
	if err != nil {
		return err
	}

	var userCount int64
	if err := db.Model(&users.User{}).Count(&userCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	var serviceCount int64
	if err := db.Model(&services.Service{}).Count(&serviceCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	var sessionCount int64
	if err := db.Model(&tracker.Session{}).Count(&sessionCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	var hitCount int64
	if err := db.Model(&tracker.Hit{}).Count(&hitCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Users: %d", userCount)
	log.Printf("- Services: %d", serviceCount)
	log.Printf("- Sessions: %d", sessionCount)
	log.Printf("- Hits: %d", hitCount)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: beaconctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	return nil
}

// Helper functions

func connection(app *internal.Application) (*gorm.DB, error) {
	if app == nil {
		return nil, fmt.Errorf("app initialization failed, cannot connect to database")
	}
	return app.DBManager.GetConnection(), nil
}

// argOrPrompt takes a positional argument when given, otherwise reads one
// line from stdin.
func argOrPrompt(args []string, index int, prompt string) (string, error) {
	if len(args) > index {
		return args[index], nil
	}
	fmt.Print(prompt)
	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// promptPasswordConfirmed reads a password twice without echoing it.
func promptPasswordConfirmed() (string, error) {
	fmt.Print("Enter password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}
	return string(first), nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	fmt.Println("Usage: beaconctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	os.Exit(1)
}
