package main

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/secure-element-agent/cmd/flags"
	"github.com/ruteri/secure-element-agent/common"
	"github.com/ruteri/secure-element-agent/config"
	"github.com/ruteri/secure-element-agent/cryptoutils"
	"github.com/ruteri/secure-element-agent/httpserver"
	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/keyring"
	"github.com/ruteri/secure-element-agent/kms"
	"github.com/ruteri/secure-element-agent/provider/software"
	"github.com/ruteri/secure-element-agent/provisioning"
	"github.com/ruteri/secure-element-agent/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "secure-element-agent",
		Usage:   "Serve and drive the secure element provisioning agent",
		Version: common.Version,
		Commands: []*cli.Command{
			serveCommand,
			chipCertCommand,
			birthCertCommand,
			activateCommand,
			fieldKeyCommand,
			fieldSessionCommand,
			dosSecretCommand,
			sealCommand,
			openCommand,
			randomCommand,
			endSessionCommand,
			chipUIDCommand,
			objectCommand,
			slotCommand,
			inspectCertCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the agent API",
	Flags: append([]cli.Flag{flags.ConfigFlag, flags.ListenAddrFlag}, flags.CommonFlags...),
	Action: func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		cfg, err := config.Load(cCtx.String(flags.ConfigFlag.Name))
		if err != nil {
			logger.Error("Failed to load configuration", "err", err)
			return err
		}

		store, err := storage.NewStoreFactory(logger).StoreFromURIs(cfg.Stores)
		if err != nil {
			logger.Error("Failed to create object store", "err", err)
			return err
		}

		attester, err := newAttester(cfg, logger)
		if err != nil {
			logger.Error("Failed to create attestation provider", "err", err)
			return err
		}

		var admin *httpserver.AdminHandler
		if cfg.Sealing.Threshold > 0 {
			admin, err = newAdminHandler(cfg, logger)
			if err != nil {
				logger.Error("Failed to load admin keys", "err", err)
				return err
			}
		}

		handler := httpserver.NewHandler(nil, logger)
		server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cfg), handler, admin)
		if err != nil {
			logger.Error("Failed to create server", "err", err)
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		newAgent := func(sealer *kms.SealingKMS) *provisioning.Agent {
			providerOpts := []software.Option{software.WithLogger(logger)}
			if sealer != nil {
				providerOpts = append(providerOpts, software.WithKeyStore(store, sealer))
			}
			ringOpts := []keyring.Option{
				keyring.WithLogger(logger),
				keyring.WithAttestationProvider(attester),
				keyring.WithObjectStore(store),
			}
			if cfg.StrictCertificate {
				ringOpts = append(ringOpts, keyring.WithStrictCertificate())
			}
			agentOpts := []provisioning.Option{provisioning.WithLogger(logger)}
			if pk := config.Bytes(cfg.Server.PublicKey); len(pk) > 0 {
				agentOpts = append(agentOpts, provisioning.WithServerPublicKey(pk))
			}
			if pk := config.Bytes(cfg.Server.DoSPublicKey); len(pk) > 0 {
				agentOpts = append(agentOpts, provisioning.WithDoSServerPublicKey(pk))
			}
			ring := keyring.New(software.New(providerOpts...), ringOpts...)
			return provisioning.NewAgent(ring, store, agentOpts...)
		}

		switch {
		case cfg.Sealing.MasterKey != "":
			sealer, err := kms.NewSealingKMS(config.Bytes(cfg.Sealing.MasterKey))
			if err != nil {
				logger.Error("Invalid sealing master key", "err", err)
				return err
			}
			handler.SetAgent(newAgent(sealer))
		case admin != nil:
			logger.Info("Waiting for admin shares to unlock the sealing key", "threshold", cfg.Sealing.Threshold)
			go func() {
				sealer, err := admin.WaitForUnlock(ctx)
				if err != nil {
					logger.Error("Sealing key unlock aborted", "err", err)
					return
				}
				handler.SetAgent(newAgent(sealer))
				logger.Info("Sealing key unlocked, agent API enabled")
			}()
		default:
			logger.Warn("No sealing key configured, persistent keys are not stored")
			handler.SetAgent(newAgent(nil))
		}

		server.RunInBackground()

		exit := make(chan os.Signal, 1)
		signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
		<-exit
		logger.Info("Shutdown signal received")
		cancel()

		server.Shutdown()
		return nil
	},
}

func newAttester(cfg *config.Config, logger *slog.Logger) (interfaces.AttestationProvider, error) {
	typ, err := cryptoutils.AttestationTypeFromString(cfg.Attestation.Type)
	if err != nil {
		return nil, err
	}
	attester, err := cryptoutils.NewAttestationProvider(typ, cryptoutils.AttestationOptions{
		RemoteAddress:    cfg.Attestation.RemoteAddress,
		ImplementationID: config.Bytes(cfg.Attestation.ImplementationID),
	})
	if err != nil {
		return nil, err
	}
	if sw, ok := attester.(*cryptoutils.SoftwareAttestationProvider); ok {
		der, err := x509.MarshalPKIXPublicKey(sw.PublicKey())
		if err != nil {
			return nil, err
		}
		logger.Info("Software attestation key generated", "publicKey", hex.EncodeToString(der))
	}
	return attester, nil
}

func newAdminHandler(cfg *config.Config, logger *slog.Logger) (*httpserver.AdminHandler, error) {
	f, err := os.Open(cfg.Sealing.AdminKeysFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	adminKeys, err := httpserver.LoadAdminKeys(f)
	if err != nil {
		return nil, err
	}
	if len(adminKeys) < cfg.Sealing.Threshold {
		return nil, fmt.Errorf("%d admins cannot reach threshold %d", len(adminKeys), cfg.Sealing.Threshold)
	}
	logger.Info("Admin keys loaded", "count", len(adminKeys))
	return httpserver.NewAdminHandler(logger, adminKeys, cfg.Sealing.Threshold)
}

var inspectCertCommand = &cli.Command{
	Name:      "inspect-cert",
	Usage:     "print the parts of a chip certificate file",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "attestation-pubkey",
			Usage: "hex PKIX public key to verify software attestation tokens against",
		},
	},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() != 1 {
			return errors.New("expected one chip certificate file")
		}
		blob, err := os.ReadFile(cCtx.Args().First())
		if err != nil {
			return err
		}
		token, certDER, err := keyring.ParseChipCertificate(blob)
		if err != nil {
			return err
		}
		fmt.Printf("token: %d bytes\n", len(token))

		if pubHex := cCtx.String("attestation-pubkey"); pubHex != "" {
			if err := printSoftwareToken(token, pubHex); err != nil {
				return err
			}
		}

		if len(certDER) == 0 {
			fmt.Println("birth certificate: none")
			return nil
		}
		_, cert, err := cryptoutils.ParseBirthCertificate(certDER)
		if err != nil {
			return err
		}
		fmt.Printf("birth certificate: subject=%q issuer=%q serial=%s not_after=%s\n",
			cert.Subject.String(), cert.Issuer.String(), cert.SerialNumber, cert.NotAfter)
		return pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	},
}

func printSoftwareToken(token []byte, pubHex string) error {
	der, err := hex.DecodeString(pubHex)
	if err != nil {
		return fmt.Errorf("attestation-pubkey: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("attestation-pubkey: %w", err)
	}
	ecdsaPub := asECDSA(pub)
	if ecdsaPub == nil {
		return errors.New("attestation-pubkey: not an ECDSA key")
	}
	claims, err := cryptoutils.ParseSoftwareToken(token, ecdsaPub)
	if err != nil {
		return err
	}
	fmt.Printf("token: verified, chip key=%x instance=%x\n", claims.Challenge, claims.InstanceID)
	return nil
}
