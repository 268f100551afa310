package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"esence/infrastructure/config"
	"esence/infrastructure/di"
	"esence/infrastructure/identity"
	"esence/infrastructure/persistence/filestore"
	"esence/pkg/auth"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	forceKeygen bool
	tokenTTL    time.Duration
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the node key pair",
	Long: `Generates the Ed25519 key pair of the node. Existing keys are kept
unless --force is given; regenerating keys invalidates every signature peers
have cached for this DID.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

var didCmd = &cobra.Command{
	Use:   "did",
	Short: "Print the node DID and identity document",
	Args:  cobra.NoArgs,
	RunE:  runDID,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an owner token for the control API",
	Long: `Issues a JWT for the local control API and the push channel, signed
with ESENCE_JWT_SECRET and bound to this node's DID.`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	keygenCmd.Flags().BoolVar(&forceKeygen, "force", false, "replace an existing key pair")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
}

type identityEnv struct {
	cfg    *config.Config
	store  *filestore.Store
	opts   identity.Options
	logger *zap.Logger
}

func openIdentityEnv() (*identityEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := di.ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	store, err := filestore.New(cfg.Node.StoreDir, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &identityEnv{
		cfg:   cfg,
		store: store,
		opts: identity.Options{
			KeysDir:       identity.KeysDir(store.Dir()),
			NodeName:      cfg.Node.Name,
			Host:          cfg.PublicHost(),
			MaxMessageAge: cfg.Queue.MaxMessageAge,
		},
		logger: logger,
	}, nil
}

func (e *identityEnv) load(ctx context.Context) (*identity.Manager, error) {
	return identity.LoadOrCreate(ctx, e.opts, e.store, nil, e.logger)
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	env, err := openIdentityEnv()
	if err != nil {
		return err
	}

	var m *identity.Manager
	switch {
	case identity.KeysExist(env.opts.KeysDir) && !forceKeygen:
		return errors.New("a key pair already exists; use --force to replace it")
	case forceKeygen:
		m, err = identity.Regenerate(cmd.Context(), env.opts, env.store, env.logger)
	default:
		m, err = env.load(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("failed to generate keys: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "did: %s\npublic_key: %s\n", m.DID(), m.PublicKey())
	return nil
}

func runDID(cmd *cobra.Command, _ []string) error {
	env, err := openIdentityEnv()
	if err != nil {
		return err
	}
	m, err := env.load(cmd.Context())
	if err != nil {
		return err
	}

	doc, err := json.MarshalIndent(m.Document(0, true), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), m.DID())
	fmt.Fprintln(cmd.OutOrStdout(), string(doc))
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	env, err := openIdentityEnv()
	if err != nil {
		return err
	}
	if env.cfg.Auth.JWTSecret == "" {
		return errors.New("ESENCE_JWT_SECRET is not set")
	}
	m, err := env.load(cmd.Context())
	if err != nil {
		return err
	}

	tokens, err := auth.NewOwnerTokens(env.cfg.Auth.JWTSecret, env.cfg.Auth.JWTIssuer, m.DID().String())
	if err != nil {
		return err
	}
	token, err := tokens.Issue(tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
