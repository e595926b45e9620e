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

package controller

import "time"

// Prompt texts.
const (
	DescriptionText = "Confirm fingerprint to continue."
	TouchSensorText = "Touch Sensor"
	FailedText      = "Authentication Failed"
	ErrorText       = "Authentication Error"
	SucceededText   = "Authentication Succeeded"
)

// Default cool-down delays.
const (
	ShortDelay = 500 * time.Millisecond
	LongDelay  = 3 * time.Second
)

// Icon is the glyph shown on the prompt.
type Icon int

const (
	IconFingerprint Icon = iota
	IconCheck
)

func (i Icon) String() string {
	if i == IconCheck {
		return "check"
	}
	return "fingerprint"
}

// Tint is the color of the prompt icon.
type Tint int

const (
	TintBlue Tint = iota
	TintRed
	TintGreen
)

func (t Tint) String() string {
	switch t {
	case TintRed:
		return "red"
	case TintGreen:
		return "green"
	default:
		return "blue"
	}
}

// View is everything a presenter needs to draw the prompt.
type View struct {
	Description string
	Status      string
	Icon        Icon
	Tint        Tint
}

// IdleView is the prompt waiting for a touch.
func IdleView() View {
	return View{
		Description: DescriptionText,
		Status:      TouchSensorText,
		Icon:        IconFingerprint,
		Tint:        TintBlue,
	}
}

func (v View) withStatus(status string, tint Tint) View {
	v.Status = status
	v.Tint = tint
	return v
}

// Presenter draws the prompt. Its methods are called with the controller's
// lock held and must not call back into the controller.
type Presenter interface {
	Render(View)
	Dismiss()
}

// Delays are the cool-down periods of the prompt.
type Delays struct {
	// FailedReset restores the idle view after a non-matching touch.
	FailedReset time.Duration `yaml:"failed_reset"`

	// HelpReset restores the idle view after a help message.
	HelpReset time.Duration `yaml:"help_reset"`

	// ErrorForward is how long a sensor error stays on screen before the
	// caller is notified.
	ErrorForward time.Duration `yaml:"error_delay"`

	// SuccessForward is how long the success view stays on screen before the
	// caller receives the handle.
	SuccessForward time.Duration `yaml:"success_delay"`
}

// DefaultDelays returns the standard cool-down periods.
func DefaultDelays() Delays {
	return Delays{
		FailedReset:    ShortDelay,
		HelpReset:      LongDelay,
		ErrorForward:   LongDelay,
		SuccessForward: ShortDelay,
	}
}

func (d *Delays) setDefaults() {
	def := DefaultDelays()
	if d.FailedReset <= 0 {
		d.FailedReset = def.FailedReset
	}
	if d.HelpReset <= 0 {
		d.HelpReset = def.HelpReset
	}
	if d.ErrorForward <= 0 {
		d.ErrorForward = def.ErrorForward
	}
	if d.SuccessForward <= 0 {
		d.SuccessForward = def.SuccessForward
	}
}
