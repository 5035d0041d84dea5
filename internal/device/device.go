// Package device locates the ALSA loopback card that the relay writes into.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/benaskins/loopmic/internal/sysexec"
)

var (
	// ErrDeviceNotFound means the capture listing contained no cards at all.
	ErrDeviceNotFound = errors.New("no suitable audio device found")

	// ErrDeviceQueryFailed means the capture listing command itself failed.
	ErrDeviceQueryFailed = errors.New("audio device query failed")
)

var cardRe = regexp.MustCompile(`card (\d+):`)

// Resolver returns the card identifier of the loopback sink.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ALSA resolves the loopback card by loading snd-aloop and parsing
// `arecord -l`.
type ALSA struct {
	runner sysexec.Runner
	logger *slog.Logger
}

// NewALSA creates a resolver that runs modprobe and arecord through runner.
func NewALSA(runner sysexec.Runner) *ALSA {
	return &ALSA{
		runner: runner,
		logger: slog.With("component", "device"),
	}
}

// Resolve loads the loopback kernel module (a no-op if already loaded) and
// returns the card number of the loopback device.
func (a *ALSA) Resolve(ctx context.Context) (string, error) {
	a.logger.Info("loading snd-aloop module")
	if _, err := a.runner.Run(ctx, "modprobe", "snd-aloop"); err != nil {
		// Usually means we are not root and the module is already loaded.
		a.logger.Warn("modprobe snd-aloop failed", "error", err)
	}

	out, err := a.runner.Run(ctx, "arecord", "-l")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDeviceQueryFailed, err)
	}

	listing := string(out)
	a.logger.Debug("audio devices found", "listing", listing)

	card, loopback, err := ParseCardList(listing)
	if err != nil {
		return "", err
	}
	if loopback {
		a.logger.Info("found loopback device", "card", card)
	} else {
		a.logger.Info("no loopback device listed, using last available card", "card", card)
	}
	return card, nil
}

// ParseCardList extracts a card number from `arecord -l` output. The first
// line mentioning "loopback" (any case) wins. Otherwise the highest-numbered
// card is returned, on the assumption that the most recently added card is
// the one we loaded. loopback reports which rule matched.
func ParseCardList(listing string) (card string, loopback bool, err error) {
	for _, line := range strings.Split(listing, "\n") {
		if !strings.Contains(strings.ToLower(line), "loopback") {
			continue
		}
		if m := cardRe.FindStringSubmatch(line); m != nil {
			return m[1], true, nil
		}
	}

	best := -1
	for _, m := range cardRe.FindAllStringSubmatch(listing, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return "", false, ErrDeviceNotFound
	}
	return strconv.Itoa(best), false, nil
}

// Sink returns the ALSA hardware address for a card, e.g. "hw:4,0,0".
func Sink(card string) string {
	return fmt.Sprintf("hw:%s,0,0", card)
}
