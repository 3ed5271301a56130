package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tc-go/internal/app"
	"tc-go/internal/config"
	"tc-go/internal/tc"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newManager reads the config, prompts for the collection key passphrase if
// the collection is encrypted, and wires a Manager. The caller must defer
// m.Close().
func newManager() (*app.Manager, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	passphrase := ""
	if settings, err := config.ReadSettings(cfg.CollectionDir); err == nil && settings != nil && settings.Encrypted {
		passphrase, err = promptPassphrase("Collection key passphrase: ")
		if err != nil {
			return nil, err
		}
	}

	m, err := app.NewManager(cfg, passphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing: %w", err)
	}
	return m, nil
}

// requireCollection returns the active collection or a friendly error.
func requireCollection(m *app.Manager) (tc.Collection, error) {
	if !m.HasCollection() {
		return nil, fmt.Errorf("this collection is not a Team Collection (no %s)", config.SettingsFileName)
	}
	return m.Collection(), nil
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(data), nil
}

// printProgress echoes sync progress lines to stdout.
type printProgress struct{}

func (printProgress) Message(msg string) { fmt.Println(msg) }

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Printf("WARNING: %s\n", w)
	}
	if len(warnings) == 0 {
		fmt.Println("Done, no warnings.")
	}
}

var rootCmd = &cobra.Command{
	Use:   "tc",
	Short: "Team Collection synchronization and locking",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		collectionDir, _ := cmd.Flags().GetString("collection")
		if user == "" || collectionDir == "" {
			return fmt.Errorf("--user and --collection are required")
		}
		absDir, err := filepath.Abs(collectionDir)
		if err != nil {
			return fmt.Errorf("resolving collection path: %w", err)
		}

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		machine, _ := cmd.Flags().GetString("machine")
		if machine == "" {
			host, err := os.Hostname()
			if err != nil {
				host = "machine"
			}
			machine = host + "-" + uuid.New().String()[:8]
		}

		cfg := config.NewConfig(user, machine, absDir)
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User:       %s\n", user)
		fmt.Printf("Machine:    %s\n", machine)
		fmt.Printf("Collection: %s\n", absDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("User:       %s\n", cfg.User)
		fmt.Printf("Machine:    %s\n", cfg.Machine)
		fmt.Printf("Collection: %s\n", cfg.CollectionDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		return nil
	},
}

// create command
var createCmd = &cobra.Command{
	Use:   "create REPO_DIR",
	Short: "Create a new Team Collection in a shared folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		repoDir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving repo path: %w", err)
		}

		passphrase := ""
		if encrypt {
			passphrase, err = promptPassphrase("New collection key passphrase: ")
			if err != nil {
				return err
			}
			if passphrase == "" {
				return fmt.Errorf("an encrypted collection needs a non-empty passphrase")
			}
		}

		warnings, err := m.CreateCollection(repoDir, passphrase)
		if err != nil {
			return fmt.Errorf("creating Team Collection: %w", err)
		}
		fmt.Printf("Created Team Collection at %s\n", repoDir)
		printWarnings(warnings)
		return nil
	},
}

// join command
var joinCmd = &cobra.Command{
	Use:   "join REPO_DIR",
	Short: "Join an existing Team Collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		repoDir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving repo path: %w", err)
		}

		// A key received out-of-band means this is an encrypted collection.
		passphrase := ""
		keyPath := filepath.Join(m.CollectionDir(), ".tc", "collection.key")
		if _, err := os.Stat(keyPath); err == nil {
			passphrase, err = promptPassphrase("Collection key passphrase: ")
			if err != nil {
				return err
			}
		}

		warnings, err := m.JoinCollection(repoDir, passphrase)
		if err != nil {
			return fmt.Errorf("joining Team Collection: %w", err)
		}
		fmt.Printf("Joined Team Collection at %s\n", repoDir)
		printWarnings(warnings)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the local collection with the Team Collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}

		warnings := collection.SyncAtStartup(printProgress{}, false)
		printWarnings(warnings)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status [BOOK]",
	Short: "Show collection or book status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			fmt.Printf("Collection status: %s\n", m.Status())
			return nil
		}

		bookID := args[0]
		status, err := collection.GetStatus(bookID)
		if err != nil {
			return fmt.Errorf("getting status of %s: %w", bookID, err)
		}
		switch status.Lock() {
		case tc.Unlocked:
			fmt.Printf("%s: not checked out\n", bookID)
		case tc.LocalOnly:
			fmt.Printf("%s: local only, not yet shared\n", bookID)
		default:
			fmt.Printf("%s: checked out by %s on %s since %s\n",
				bookID, status.LockedBy, status.LockedWhere, status.LockedWhen)
		}
		return nil
	},
}

// lock/unlock/checkin commands
var lockCmd = &cobra.Command{
	Use:   "lock BOOK",
	Short: "Check out a book for exclusive editing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}

		won, err := collection.AttemptLock(args[0], m.CurrentUser())
		if err != nil {
			return fmt.Errorf("attempting lock: %w", err)
		}
		if !won {
			status, _ := collection.GetStatus(args[0])
			return fmt.Errorf("could not check out %s; it is held by %s on %s",
				args[0], status.LockedBy, status.LockedWhere)
		}
		fmt.Printf("Checked out %s\n", args[0])
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock BOOK",
	Short: "Release a book without sharing changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}

		if err := collection.UnlockBook(args[0]); err != nil {
			return fmt.Errorf("unlocking: %w", err)
		}
		fmt.Printf("Released %s\n", args[0])
		return nil
	},
}

var checkinCmd = &cobra.Command{
	Use:   "checkin BOOK",
	Short: "Share a book's changes and release it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}

		bookFolder := filepath.Join(m.CollectionDir(), args[0])
		if _, err := collection.PutBook(bookFolder, true); err != nil {
			return fmt.Errorf("checking in: %w", err)
		}
		fmt.Printf("Checked in %s\n", args[0])
		return nil
	},
}

var forceUnlockCmd = &cobra.Command{
	Use:   "force-unlock BOOK",
	Short: "Clear a lock regardless of holder (dangerous to their edits)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}

		if err := collection.ForceUnlock(args[0]); err != nil {
			return fmt.Errorf("force-unlocking: %w", err)
		}
		fmt.Printf("Cleared the checkout of %s\n", args[0])
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the collection message log",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}

		mlog := collection.MessageLog()
		messages := mlog.Messages()
		if all {
			messages, err = mlog.LoadAll()
			if err != nil {
				return fmt.Errorf("loading log history: %w", err)
			}
		}

		for _, msg := range messages {
			if msg.Type.IsMilestone() {
				continue
			}
			fmt.Printf("%s  %-14s  %s\n", msg.When.Format("2006-01-02 15:04:05"), msg.Type, msg.Text())
		}
		if err := mlog.WriteMilestone(tc.MilestoneLogDisplayed); err != nil {
			return err
		}
		return nil
	},
}

// monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the Team Collection for changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}
		defer m.Close()

		collection, err := requireCollection(m)
		if err != nil {
			return err
		}
		if collection.IsDisconnected() {
			return fmt.Errorf("the Team Collection is not reachable")
		}

		collection.MessageLog().Subscribe(func(status tc.CollectionStatus) {
			fmt.Printf("Collection status: %s\n", status)
		})

		if err := collection.StartMonitoring(); err != nil {
			return fmt.Errorf("starting monitoring: %w", err)
		}
		fmt.Println("Monitoring the Team Collection. Press Ctrl-C to stop.")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		return collection.StopMonitoring()
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("user", "", "Your email identity")
	configInitCmd.Flags().String("machine", "", "This machine's identity (generated if omitted)")
	configInitCmd.Flags().String("collection", "", "Local collection folder")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().Bool("encrypt", false, "Encrypt book contents at rest in the shared folder")
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(forceUnlockCmd)
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().Bool("all", false, "Show the full persisted history")
	rootCmd.AddCommand(monitorCmd)
}
