package main

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/ruteri/secure-element-agent/cmd/flags"
	"github.com/ruteri/secure-element-agent/httpserver"
	"github.com/ruteri/secure-element-agent/interfaces"
	"github.com/ruteri/secure-element-agent/storage"
	"github.com/urfave/cli/v2"
)

var flagOut = &cli.StringFlag{
	Name:  "out",
	Usage: "write the result to this file instead of printing it as hex",
}

var flagIn = &cli.StringFlag{
	Name:  "in",
	Usage: "read the input from this file",
}

var flagHexData = &cli.StringFlag{
	Name:  "data",
	Usage: "hex input, used when --in is not set",
}

func client(cCtx *cli.Context) *httpserver.Client {
	return httpserver.NewClient(cCtx.String(flags.AgentAddrFlag.Name))
}

func hexFlag(cCtx *cli.Context, name string) ([]byte, error) {
	b, err := hex.DecodeString(cCtx.String(name))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return b, nil
}

// input returns the --in file contents or the decoded --data.
func input(cCtx *cli.Context) ([]byte, error) {
	if path := cCtx.String(flagIn.Name); path != "" {
		return os.ReadFile(path)
	}
	return hexFlag(cCtx, flagHexData.Name)
}

func output(cCtx *cli.Context, data []byte) error {
	if path := cCtx.String(flagOut.Name); path != "" {
		return os.WriteFile(path, data, 0600)
	}
	fmt.Println(hex.EncodeToString(data))
	return nil
}

func asECDSA(pub any) *ecdsa.PublicKey {
	k, _ := pub.(*ecdsa.PublicKey)
	return k
}

var chipCertCommand = &cli.Command{
	Name:  "chip-cert",
	Usage: "generate the chip key and fetch the chip certificate",
	Flags: []cli.Flag{flags.AgentAddrFlag, flagOut},
	Action: func(cCtx *cli.Context) error {
		cert, err := client(cCtx).ChipCertificate(cCtx.Context)
		if err != nil {
			return err
		}
		return output(cCtx, cert)
	},
}

var birthCertCommand = &cli.Command{
	Name:  "birth-cert",
	Usage: "install a DER or PEM birth certificate",
	Flags: []cli.Flag{flags.AgentAddrFlag, flagIn, flagHexData},
	Action: func(cCtx *cli.Context) error {
		cert, err := input(cCtx)
		if err != nil {
			return err
		}
		return client(cCtx).InstallBirthCertificate(cCtx.Context, cert)
	},
}

var activateCommand = &cli.Command{
	Name:  "activate",
	Usage: "derive the activation session keys",
	Flags: []cli.Flag{
		flags.AgentAddrFlag,
		&cli.StringFlag{Name: "salt", Required: true, Usage: "hex salt sent by the provisioning server"},
	},
	Action: func(cCtx *cli.Context) error {
		salt, err := hexFlag(cCtx, "salt")
		if err != nil {
			return err
		}
		return client(cCtx).Activate(cCtx.Context, salt)
	},
}

var fieldKeyCommand = &cli.Command{
	Name:  "rotate-field-key",
	Usage: "derive a new persistent field key and its session keys",
	Flags: []cli.Flag{
		flags.AgentAddrFlag,
		&cli.StringFlag{Name: "secret", Required: true, Usage: "hex 64-byte field key secret"},
		&cli.StringFlag{Name: "seed", Required: true, Usage: "hex 16-byte segmentation seed"},
	},
	Action: func(cCtx *cli.Context) error {
		secret, err := hexFlag(cCtx, "secret")
		if err != nil {
			return err
		}
		seed, err := hexFlag(cCtx, "seed")
		if err != nil {
			return err
		}
		return client(cCtx).RotateFieldKey(cCtx.Context, secret, seed)
	},
}

var fieldSessionCommand = &cli.Command{
	Name:  "field-session",
	Usage: "derive session keys from the stored field key",
	Flags: []cli.Flag{flags.AgentAddrFlag},
	Action: func(cCtx *cli.Context) error {
		return client(cCtx).FieldSession(cCtx.Context)
	},
}

var dosSecretCommand = &cli.Command{
	Name:  "dos-secret",
	Usage: "agree an exposed secret with the DoS protection server",
	Flags: []cli.Flag{flags.AgentAddrFlag},
	Action: func(cCtx *cli.Context) error {
		resp, err := client(cCtx).DoSSecret(cCtx.Context)
		if err != nil {
			return err
		}
		fmt.Printf("public_key: %x\nsecret: %x\n", resp.PublicKey, resp.Secret)
		return nil
	},
}

var sealCommand = &cli.Command{
	Name:  "seal",
	Usage: "encrypt and authenticate a message with the session keys",
	Flags: []cli.Flag{flags.AgentAddrFlag, flagIn, flagHexData, flagOut},
	Action: func(cCtx *cli.Context) error {
		data, err := input(cCtx)
		if err != nil {
			return err
		}
		sealed, err := client(cCtx).Seal(cCtx.Context, data)
		if err != nil {
			return err
		}
		return output(cCtx, sealed)
	},
}

var openCommand = &cli.Command{
	Name:  "open",
	Usage: "verify and decrypt a message with the session keys",
	Flags: []cli.Flag{flags.AgentAddrFlag, flagIn, flagHexData, flagOut},
	Action: func(cCtx *cli.Context) error {
		data, err := input(cCtx)
		if err != nil {
			return err
		}
		opened, err := client(cCtx).Open(cCtx.Context, data)
		if err != nil {
			return err
		}
		return output(cCtx, opened)
	},
}

var randomCommand = &cli.Command{
	Name:      "random",
	Usage:     "draw random bytes from the crypto provider",
	ArgsUsage: "<n>",
	Flags:     []cli.Flag{flags.AgentAddrFlag, flagOut},
	Action: func(cCtx *cli.Context) error {
		n, err := strconv.Atoi(cCtx.Args().First())
		if err != nil {
			return fmt.Errorf("invalid byte count: %w", err)
		}
		data, err := client(cCtx).Random(cCtx.Context, n)
		if err != nil {
			return err
		}
		return output(cCtx, data)
	},
}

var endSessionCommand = &cli.Command{
	Name:  "end-session",
	Usage: "destroy the volatile keys and the shared secret",
	Flags: []cli.Flag{flags.AgentAddrFlag},
	Action: func(cCtx *cli.Context) error {
		return client(cCtx).EndSession(cCtx.Context)
	},
}

var chipUIDCommand = &cli.Command{
	Name:  "chip-uid",
	Usage: "print the provisioned chip UID",
	Flags: []cli.Flag{flags.AgentAddrFlag},
	Action: func(cCtx *cli.Context) error {
		uid, err := client(cCtx).ChipUID(cCtx.Context)
		if err != nil {
			return err
		}
		if len(uid) == 0 {
			fmt.Println("not provisioned")
			return nil
		}
		fmt.Println(hex.EncodeToString(uid))
		return nil
	},
}

func objectArgs(cCtx *cli.Context) (interfaces.ObjectType, interfaces.ObjectID, error) {
	if cCtx.NArg() != 2 {
		return 0, 0, errors.New("expected <type> <id>")
	}
	typ, err := interfaces.ParseObjectType(cCtx.Args().Get(0))
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.ParseUint(cCtx.Args().Get(1), 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid object id: %w", err)
	}
	return typ, interfaces.ObjectID(id), nil
}

var objectCommand = &cli.Command{
	Name:  "object",
	Usage: "manage stored data and certificate objects",
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			ArgsUsage: "<type> <id>",
			Flags:     []cli.Flag{flags.AgentAddrFlag, flagOut},
			Action: func(cCtx *cli.Context) error {
				typ, id, err := objectArgs(cCtx)
				if err != nil {
					return err
				}
				data, err := client(cCtx).GetObject(cCtx.Context, typ, id)
				if err != nil {
					return err
				}
				return output(cCtx, data)
			},
		},
		{
			Name:      "set",
			ArgsUsage: "<type> <id>",
			Flags:     []cli.Flag{flags.AgentAddrFlag, flagIn, flagHexData},
			Action: func(cCtx *cli.Context) error {
				typ, id, err := objectArgs(cCtx)
				if err != nil {
					return err
				}
				data, err := input(cCtx)
				if err != nil {
					return err
				}
				return client(cCtx).SetObject(cCtx.Context, typ, id, data)
			},
		},
		{
			Name:      "delete",
			ArgsUsage: "<type> <id>",
			Flags:     []cli.Flag{flags.AgentAddrFlag},
			Action: func(cCtx *cli.Context) error {
				typ, id, err := objectArgs(cCtx)
				if err != nil {
					return err
				}
				return client(cCtx).DeleteObject(cCtx.Context, typ, id)
			},
		},
	},
}

var slotCommand = &cli.Command{
	Name:  "slot",
	Usage: "read and write device storage slots",
	Subcommands: []*cli.Command{
		{
			Name:      "get",
			ArgsUsage: "<slot>",
			Flags:     []cli.Flag{flags.AgentAddrFlag, flagOut},
			Action: func(cCtx *cli.Context) error {
				slot, err := storage.ParseSlot(cCtx.Args().First())
				if err != nil {
					return err
				}
				data, err := client(cCtx).GetSlot(cCtx.Context, slot)
				if err != nil {
					return err
				}
				return output(cCtx, data)
			},
		},
		{
			Name:      "set",
			ArgsUsage: "<slot>",
			Flags: []cli.Flag{flags.AgentAddrFlag, flagIn, flagHexData,
				&cli.BoolFlag{Name: "lock", Usage: "write a lockable slot and lock it"}},
			Action: func(cCtx *cli.Context) error {
				slot, err := storage.ParseSlot(cCtx.Args().First())
				if err != nil {
					return err
				}
				data, err := input(cCtx)
				if err != nil {
					return err
				}
				return client(cCtx).SetSlot(cCtx.Context, slot, data, cCtx.Bool("lock"))
			},
		},
	},
}
