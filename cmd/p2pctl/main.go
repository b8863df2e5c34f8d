// Command p2pctl administers a procurement deployment: it seeds users, issues
// bearer tokens and checks the external collaborators against live config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/config"
	"github.com/garyjia/p2p-procurement/internal/container"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
	infraLark "github.com/garyjia/p2p-procurement/internal/infrastructure/external/lark"
	apihttp "github.com/garyjia/p2p-procurement/internal/interfaces/http"
	"github.com/garyjia/p2p-procurement/pkg/utils"
)

const usage = `Usage: p2pctl <command> [flags]

Commands:
  user-add      create a user            --username --email --role (STAFF|L1|L2|FINANCE)
  token         issue a bearer token     --username
  extract-test  run quote extraction     --file
  notify-test   post a Lark chat message --text

Every command accepts --config (default configs/config.yaml).
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "user-add":
		err = userAdd(args)
	case "token":
		err = issueToken(args)
	case "extract-test":
		err = extractTest(args)
	case "notify-test":
		err = notifyTest(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// env loads config and a console logger for one command
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration file")
	return fs, configPath
}

func load(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := utils.NewLogger(utils.LoggerConfig{Level: "warn", OutputPath: "stderr", Format: "console"})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) repositories() (*container.RepositoryBundle, func(), error) {
	db, err := container.ProvideDatabase(e.cfg.Database, e.logger)
	if err != nil {
		return nil, nil, err
	}
	repos, err := container.ProvideRepositories(db.DB, e.logger)
	if err != nil {
		_ = db.DB.Close()
		return nil, nil, err
	}
	return repos, func() { _ = db.DB.Close() }, nil
}

func userAdd(args []string) error {
	fs, configPath := newFlagSet("user-add")
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "email address")
	role := fs.String("role", entity.RoleStaff.String(), "STAFF, L1, L2 or FINANCE")
	_ = fs.Parse(args)

	if *username == "" {
		return fmt.Errorf("--username is required")
	}
	if *email != "" {
		if err := utils.ValidateEmail(*email); err != nil {
			return err
		}
	}

	e, err := load(*configPath)
	if err != nil {
		return err
	}
	repos, closeDB, err := e.repositories()
	if err != nil {
		return err
	}
	defer closeDB()

	user := &entity.User{Username: *username, Email: *email, Role: entity.Role(*role)}
	if err := repos.Users.Create(context.Background(), user); err != nil {
		return err
	}

	fmt.Printf("created user %d (%s, %s)\n", user.ID, user.Username, user.Role)
	return nil
}

func issueToken(args []string) error {
	fs, configPath := newFlagSet("token")
	username := fs.String("username", "", "user to issue the token for")
	_ = fs.Parse(args)

	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	e, err := load(*configPath)
	if err != nil {
		return err
	}
	repos, closeDB, err := e.repositories()
	if err != nil {
		return err
	}
	defer closeDB()

	user, err := repos.Users.GetByUsername(context.Background(), *username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", *username)
	}

	auth := apihttp.NewAuthenticator(e.cfg.Auth.JWTSecret, e.cfg.Auth.Issuer, e.cfg.Auth.TokenTTL)
	token, err := auth.Issue(user.Actor())
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

func extractTest(args []string) error {
	fs, configPath := newFlagSet("extract-test")
	file := fs.String("file", "", "quote PDF or image to extract")
	_ = fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("--file is required")
	}
	content, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	e, err := load(*configPath)
	if err != nil {
		return err
	}
	docs, err := container.ProvideDocuments(e.cfg, nil, e.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	meta, err := docs.Extract(ctx, &entity.UploadedFile{Name: filepath.Base(*file), Content: content})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("provider: %s, took %s\n%s\n", e.cfg.Documents.Provider, time.Since(start).Round(time.Millisecond), out)
	return nil
}

func notifyTest(args []string) error {
	fs, configPath := newFlagSet("notify-test")
	text := fs.String("text", "Procurement notification test", "message to post")
	_ = fs.Parse(args)

	e, err := load(*configPath)
	if err != nil {
		return err
	}

	larkCfg := infraLark.Config{
		AppID:     e.cfg.Lark.AppID,
		AppSecret: e.cfg.Lark.AppSecret,
		BaseURL:   e.cfg.Lark.BaseURL,
		ChatID:    e.cfg.Lark.ChatID,
		Timeout:   e.cfg.Lark.APITimeout,
	}
	if !larkCfg.Enabled() {
		return fmt.Errorf("lark.app_id, lark.app_secret and lark.chat_id must be set")
	}

	messenger := infraLark.NewMessenger(infraLark.NewSDKClient(larkCfg, e.logger), e.logger)
	if err := messenger.SendText(context.Background(), larkCfg.ChatID, *text); err != nil {
		return err
	}

	fmt.Printf("posted to %s\n", larkCfg.ChatID)
	return nil
}
