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
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-biokey/pkg/health"
	"github.com/jeremyhahn/go-biokey/pkg/keystore/software"
	"github.com/jeremyhahn/go-biokey/pkg/types"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// KeyStatus is what "key status" reports.
type KeyStatus struct {
	Alias  types.KeyAlias
	Exists bool
	Info   *software.KeyInfo
	Facts  types.EnvironmentFacts
}

// PrintKeyStatus prints the key and environment state of an alias
func (p *Printer) PrintKeyStatus(s KeyStatus) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]interface{}{
			"alias":       s.Alias,
			"exists":      s.Exists,
			"environment": s.Facts,
		}
		if s.Info != nil {
			out["key"] = map[string]interface{}{
				"id":                       s.Info.ID,
				"tier":                     s.Info.Tier.String(),
				"key_size":                 s.Info.KeySize,
				"created_at":               time.Unix(s.Info.CreatedAt, 0).UTC().Format(time.RFC3339),
				"requires_live_auth":       s.Info.Policy.RequiresLiveAuthentication,
				"invalidate_on_enrollment": s.Info.Policy.InvalidateOnEnrollmentChange,
				"invalidated":              s.Info.Invalidated,
			}
		}
		return p.printJSON(out)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Alias:   %s\n", s.Alias)
		if s.Info == nil {
			fmt.Fprintln(p.writer, "Key:     none")
		} else {
			state := "valid"
			if s.Info.Invalidated {
				state = "invalidated"
			}
			fmt.Fprintf(p.writer, "Key:     %s (%s)\n", s.Info.ID, state)
			fmt.Fprintf(p.writer, "  Tier:    %s\n", s.Info.Tier)
			fmt.Fprintf(p.writer, "  Size:    %d bits\n", s.Info.KeySize)
			fmt.Fprintf(p.writer, "  Created: %s\n", time.Unix(s.Info.CreatedAt, 0).UTC().Format(time.RFC3339))
			fmt.Fprintf(p.writer, "  Policy:  %s\n", s.Info.Policy)
		}
		fmt.Fprintln(p.writer, "Environment:")
		fmt.Fprintf(p.writer, "  Permission granted:    %t\n", s.Facts.PermissionGranted)
		fmt.Fprintf(p.writer, "  Hardware detected:     %t\n", s.Facts.HardwareDetected)
		fmt.Fprintf(p.writer, "  Lock screen secure:    %t\n", s.Facts.LockScreenSecure)
		fmt.Fprintf(p.writer, "  Fingerprints enrolled: %t\n", s.Facts.FingerprintsEnrolled)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAliases prints the aliases that hold a key
func (p *Printer) PrintAliases(aliases []types.KeyAlias) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"aliases": aliases})
	case OutputFormatText:
		if len(aliases) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintln(p.writer, "Keys:")
		for _, a := range aliases {
			fmt.Fprintf(p.writer, "  - %s\n", a)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintTemplates prints the enrolled fingerprint templates
func (p *Printer) PrintTemplates(templates []string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"templates": templates})
	case OutputFormatText:
		if len(templates) == 0 {
			fmt.Fprintln(p.writer, "No fingerprints enrolled")
			return nil
		}
		fmt.Fprintln(p.writer, "Enrolled fingerprints:")
		for _, t := range templates {
			fmt.Fprintf(p.writer, "  - %s\n", t)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// PrintCiphertext prints base64 ciphertext
func (p *Printer) PrintCiphertext(ciphertext string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"ciphertext": ciphertext})
	case OutputFormatText:
		fmt.Fprintln(p.writer, ciphertext)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPlaintext prints decrypted text
func (p *Printer) PrintPlaintext(plaintext string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{"plaintext": plaintext})
	case OutputFormatText:
		fmt.Fprintln(p.writer, plaintext)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHealth prints health check results
func (p *Printer) PrintHealth(status health.Status, results []health.CheckResult) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": status,
			"checks": results,
		})
	case OutputFormatText:
		for _, r := range results {
			fmt.Fprintf(p.writer, "%-10s %-12s %s\n", r.Status, r.Name, r.Message)
			if r.Error != "" {
				fmt.Fprintf(p.writer, "%-10s %-12s %s\n", "", "", r.Error)
			}
		}
		fmt.Fprintf(p.writer, "Overall: %s\n", status)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
