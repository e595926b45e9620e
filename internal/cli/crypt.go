// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-biokey/pkg/cipher"
	"github.com/jeremyhahn/go-biokey/pkg/controller"
	"github.com/jeremyhahn/go-biokey/pkg/sensor/virtual"
	"github.com/jeremyhahn/go-biokey/pkg/session"
)

var (
	// ErrNotAuthenticated is returned when the touches ran out before a
	// fingerprint matched.
	ErrNotAuthenticated = errors.New("no enrolled fingerprint was presented")

	// errOutcomes maps prompt outcomes to command errors.
	errOutcomes = map[string]error{
		"failed":          errors.New("authentication cancelled"),
		"error":           errors.New("authentication error"),
		"key_invalidated": errors.New("key permanently invalidated by an enrollment change; run \"biokey key rotate\""),
		"permission":      errors.New("permission to use the fingerprint sensor not granted"),
		"scanner":         errors.New("fingerprint sensor not available"),
		"lock_screen":     errors.New("secure lock screen not configured"),
		"not_enrolled":    errors.New("no fingerprints enrolled"),
	}
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [plaintext]",
	Short: "Encrypt text with the public key",
	Long: `Encrypt text with the public key of the alias, generating the key pair on
first use. Encryption never needs a fingerprint. The plaintext is read from
stdin when no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		plaintext, err := argOrStdin(cmd, args)
		if err != nil {
			HandleError(err)
			return
		}
		withRuntime(func(rt *runtime) error {
			alias := rt.cfg.KeyAlias()
			created, err := rt.lifecycle.EnsureKey(alias, rt.sensor.Facts())
			if err != nil {
				return err
			}
			if created {
				printVerbose("Generated key %s", alias)
			}
			h, err := rt.lifecycle.RetrieveForEncryption(alias)
			if err != nil {
				return err
			}
			ct, err := cipher.EncryptString(h, plaintext)
			if err != nil {
				return err
			}
			return newPrinter(cmd).PrintCiphertext(ct)
		})
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt [ciphertext]",
	Short: "Decrypt text after a fingerprint scan",
	Long: `Show the authentication prompt and decrypt base64 ciphertext once a
fingerprint matches. Each --touch presents one template to the virtual
sensor, in order. The ciphertext is read from stdin when no argument is
given.`,
	Example: `  biokey decrypt "$CT" --touch stranger --touch left-index`,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ciphertext, err := argOrStdin(cmd, args)
		if err != nil {
			HandleError(err)
			return
		}
		touches, _ := cmd.Flags().GetStringSlice("touch")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		withRuntime(func(rt *runtime) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			h, err := authenticate(ctx, rt, touches, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			plaintext, err := cipher.DecryptString(h, ciphertext)
			if err != nil {
				return err
			}
			return newPrinter(cmd).PrintPlaintext(plaintext)
		})
	},
}

// authenticate runs one prompt, presents the touches and returns the
// authorized decrypt handle.
func authenticate(ctx context.Context, rt *runtime, touches []string, out io.Writer) (*cipher.Handle, error) {
	box := newOutcomeBox()
	report := func(name string) func() {
		return func() { box.put(outcome{name: name}) }
	}

	ctrl, err := controller.New(&controller.Config{
		Alias:       rt.cfg.KeyAlias(),
		Keys:        rt.lifecycle,
		Sensor:      rt.sensor,
		Environment: rt.sensor,
		Presenter:   &textPresenter{w: out},
		Listener: session.ListenerFuncs{
			SucceededFunc: func(h *cipher.Handle) {
				box.put(outcome{name: "succeeded", handle: h})
			},
			FailedFunc:                        report("failed"),
			ErrorFunc:                         report("error"),
			KeyInvalidatedFunc:                report("key_invalidated"),
			PermissionNotGrantedFunc:          report("permission"),
			ScannerNotAvailableFunc:           report("scanner"),
			NotConfiguredSecureLockScreenFunc: report("lock_screen"),
			NotEnrolledFingerprintsFunc:       report("not_enrolled"),
		},
		Delays:  rt.cfg.Delays(),
		Logger:  rt.logger.With("component", "prompt"),
		Metrics: rt.cfg.Metrics.Enabled,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		ctrl.Hide()
		if s := ctrl.Session(); s != nil {
			<-s.Done()
		}
		box.close()
	}()

	if err := ctrl.Show(ctx); err != nil {
		return nil, err
	}

	for _, id := range touches {
		printVerbose("Touching sensor with %q", id)
		if err := rt.sensor.Touch(id); err != nil {
			if errors.Is(err, virtual.ErrNoActiveScan) {
				break
			}
			return nil, err
		}
	}

	// The last touch may still be in flight; give the prompt until the
	// longest cool-down to settle.
	settle := time.After(rt.cfg.Prompt.ErrorDelay + rt.cfg.Prompt.SuccessDelay + time.Second)
	select {
	case o := <-box.ch:
		if o.name == "succeeded" {
			return o.handle, nil
		}
		return nil, errOutcomes[o.name]
	case <-settle:
		return nil, ErrNotAuthenticated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// textPresenter writes prompt updates as lines of text.
type textPresenter struct {
	w    io.Writer
	last string
}

func (p *textPresenter) Render(v controller.View) {
	line := fmt.Sprintf("[%s] %s", v.Tint, v.Status)
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.w, line)
}

func (p *textPresenter) Dismiss() {}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func init() {
	decryptCmd.Flags().StringSlice("touch", nil, "fingerprint template to present, repeatable")
	decryptCmd.Flags().Duration("timeout", 30*time.Second, "give up after this long")
}

type outcome struct {
	name   string
	handle *cipher.Handle
}

// outcomeBox holds the single outcome of a prompt. A handle nobody will
// collect is released.
type outcomeBox struct {
	mu     sync.Mutex
	closed bool
	ch     chan outcome
}

func newOutcomeBox() *outcomeBox {
	return &outcomeBox{ch: make(chan outcome, 1)}
}

func (b *outcomeBox) put(o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		select {
		case b.ch <- o:
			return
		default:
		}
	}
	o.handle.Release()
}

// close drops an outcome that was never received and any that arrive later.
func (b *outcomeBox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	select {
	case o := <-b.ch:
		o.handle.Release()
	default:
	}
}
