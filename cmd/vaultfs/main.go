// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Command vaultfs creates, checks, and mounts encrypted vaults.
//
//	vaultfs create <vault-dir> [--case-fold] [--noauth] [--store-time]
//	vaultfs mount  <vault-dir> <mountpoint> [--readonly] [--allow-other] [--debug]
//	vaultfs check  <vault-dir>
//
// The passphrase is prompted on the terminal, or read from stdin
// with --password-stdin (one line, for scripted use).
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/vaultfs-foundation/vaultfs/lib/blockcrypt"
	"github.com/vaultfs-foundation/vaultfs/lib/clock"
	"github.com/vaultfs-foundation/vaultfs/lib/filetable"
	"github.com/vaultfs-foundation/vaultfs/lib/fusebridge"
	"github.com/vaultfs-foundation/vaultfs/lib/inode"
	"github.com/vaultfs-foundation/vaultfs/lib/secret"
	"github.com/vaultfs-foundation/vaultfs/lib/vaultconfig"
	"github.com/vaultfs-foundation/vaultfs/lib/vfs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vaultfs <create|mount|check> ...")
	}
	switch args[0] {
	case "create":
		return runCreate(args[1:])
	case "mount":
		return runMount(args[1:])
	case "check":
		return runCheck(args[1:])
	default:
		return fmt.Errorf("unknown command %q (want create, mount, or check)", args[0])
	}
}

func runCreate(args []string) error {
	flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
	caseFold := flags.Bool("case-fold", false, "fold path components before lookup (fix at creation)")
	noAuth := flags.Bool("noauth", false, "seal blocks without integrity tags (fix at creation)")
	storeTime := flags.Bool("store-time", false, "persist timestamps eagerly")
	passwordStdin := flags.Bool("password-stdin", false, "read the passphrase from stdin instead of prompting")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: vaultfs create <vault-dir>")
	}
	vaultDir := flags.Arg(0)

	passphrase, err := readPassphrase(*passwordStdin, true)
	if err != nil {
		return err
	}
	defer passphrase.Close()

	if err := vaultconfig.Create(vaultDir, passphrase, vaultconfig.Config{
		CaseFold:         *caseFold,
		NoAuthentication: *noAuth,
		StoreTime:        *storeTime,
	}); err != nil {
		return err
	}
	fmt.Printf("vault created at %s\n", vaultDir)
	return nil
}

func runMount(args []string) error {
	flags := pflag.NewFlagSet("mount", pflag.ContinueOnError)
	readonly := flags.Bool("readonly", false, "reject every mutation with EROFS")
	allowOther := flags.Bool("allow-other", false, "permit other users to access the mount")
	debug := flags.Bool("debug", false, "enable FUSE request tracing")
	passwordStdin := flags.Bool("password-stdin", false, "read the passphrase from stdin instead of prompting")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return fmt.Errorf("usage: vaultfs mount <vault-dir> <mountpoint>")
	}
	vaultDir, mountpoint := flags.Arg(0), flags.Arg(1)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	context, keyring, err := openVault(vaultDir, *passwordStdin, *readonly, logger)
	if err != nil {
		return err
	}
	defer keyring.Close()

	server, err := fusebridge.Mount(fusebridge.Options{
		Mountpoint: mountpoint,
		Context:    context,
		AllowOther: *allowOther,
		Debug:      *debug,
		Logger:     logger,
	})
	if err != nil {
		context.Close()
		return err
	}

	// Unmount on SIGINT/SIGTERM; the kernel then lets Wait return.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("unmounting", "mountpoint", mountpoint)
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed", "error", err)
		}
	}()

	server.Wait()

	// In-flight operations have returned; drain the finalizer before
	// the keys go away.
	context.Close()
	logger.Info("vault unmounted", "mountpoint", mountpoint)
	return nil
}

func runCheck(args []string) error {
	flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
	passwordStdin := flags.Bool("password-stdin", false, "read the passphrase from stdin instead of prompting")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: vaultfs check <vault-dir>")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	context, keyring, err := openVault(flags.Arg(0), *passwordStdin, true, logger)
	if err != nil {
		return err
	}
	defer keyring.Close()

	// Opening the context already opened the root directory; a full
	// GC cycle exercises the finalizer path too.
	context.GC()
	context.Close()
	fmt.Println("vault ok")
	return nil
}

// openVault unlocks the descriptor and assembles the mount context.
func openVault(vaultDir string, passwordStdin, readonly bool, logger *slog.Logger) (*vfs.Context, *blockcrypt.Keyring, error) {
	passphrase, err := readPassphrase(passwordStdin, false)
	if err != nil {
		return nil, nil, err
	}
	defer passphrase.Close()

	masterKey, config, err := vaultconfig.Unlock(vaultDir, passphrase)
	if err != nil {
		return nil, nil, err
	}

	keyring, err := blockcrypt.NewKeyring(masterKey, !config.NoAuthentication)
	if err != nil {
		masterKey.Close()
		return nil, nil, err
	}

	var flags filetable.Flags
	if readonly {
		flags |= filetable.FlagReadOnly
	}
	if config.NoAuthentication {
		flags |= filetable.FlagNoAuthentication
	}
	if config.StoreTime {
		flags |= filetable.FlagStoreTime
	}
	if config.CaseFold {
		flags |= filetable.FlagCaseFold
	}

	store, err := inode.NewStore(inode.StoreOptions{
		Root:      vaultDir,
		Keyring:   keyring,
		Clock:     clock.Real(),
		StoreTime: config.StoreTime,
	})
	if err != nil {
		keyring.Close()
		return nil, nil, err
	}

	table, err := filetable.NewTable(filetable.TableOptions{
		Store:  store,
		Flags:  flags,
		Logger: logger,
	})
	if err != nil {
		keyring.Close()
		return nil, nil, err
	}

	context, err := vfs.NewContext(vfs.ContextOptions{Table: table, Logger: logger})
	if err != nil {
		table.Shutdown()
		keyring.Close()
		return nil, nil, err
	}
	return context, keyring, nil
}

// readPassphrase prompts on the terminal (twice when confirming a
// new vault's passphrase) or reads one line from stdin.
func readPassphrase(fromStdin, confirm bool) (*secret.Buffer, error) {
	if fromStdin {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading passphrase from stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			return nil, fmt.Errorf("passphrase is empty")
		}
		return secret.NewFromBytes(line)
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil, fmt.Errorf("stdin is not a terminal; use --password-stdin")
	}

	fmt.Fprint(os.Stderr, "passphrase: ")
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "confirm passphrase: ")
		second, err := term.ReadPassword(stdinFd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			secret.Zero(first)
			return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
		}
		if string(first) != string(second) {
			secret.Zero(first)
			secret.Zero(second)
			return nil, fmt.Errorf("passphrases do not match")
		}
		secret.Zero(second)
	}

	return secret.NewFromBytes(first)
}
