package renderbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"catalogsync/internal/config"
)

// Side-channel blocks are delimited on the worker's stderr so they survive
// independently of the HTML on stdout.
const (
	sideChannelStart = "CATALOGSYNC_DATA_START"
	sideChannelEnd   = "CATALOGSYNC_DATA_END"
)

// ErrChallenge marks a bot-challenge page that survived all retries.
var ErrChallenge = errors.New("bot challenge detected")

// ErrEmptyHTML marks a render that produced no document at all.
var ErrEmptyHTML = errors.New("renderer returned empty html")

// challengeMarkers is the small set of known challenge-page fingerprints.
// Detection is best-effort; anything beyond detect-and-retry is out of scope.
var challengeMarkers = []string{
	"cf-challenge",
	"cf_chl_opt",
	"Just a moment...",
	"Checking your browser before accessing",
	"_Incapsula_Resource",
	"px-captcha",
	"Pardon Our Interruption",
}

// Runner executes one headless-browser worker invocation.
type Runner interface {
	Run(ctx context.Context, url, waitHint string, timeout time.Duration, interactions bool) (stdout, stderr []byte, err error)
}

// Bridge drives the out-of-process headless-browser worker with challenge
// detection and retry.
type Bridge struct {
	runner Runner
	cfg    config.RenderingConfig
	logger *slog.Logger

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a bridge over the given runner.
func New(runner Runner, cfg config.RenderingConfig, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ChallengeBackoff.Duration <= 0 {
		cfg.ChallengeBackoff = config.DurationFrom(8 * time.Second)
	}
	return &Bridge{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Render returns the final DOM for a URL, retrying transient worker failures
// and challenge pages up to the retry ceiling.
func (b *Bridge) Render(ctx context.Context, url, waitHint string) (string, error) {
	html, _, err := b.render(ctx, url, waitHint, false)
	return html, err
}

// RenderWithInteractions runs the worker's interaction flow (eg. clicking
// through colour swatches) and returns the final DOM plus the side-channel
// JSON emitted on stderr. The side-channel blob, not the DOM snapshot, is
// authoritative for anything beyond the last-clicked state.
func (b *Bridge) RenderWithInteractions(ctx context.Context, url string) (string, []byte, error) {
	return b.render(ctx, url, "", true)
}

func (b *Bridge) render(ctx context.Context, url, waitHint string, interactions bool) (string, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		stdout, stderr, err := b.runner.Run(ctx, url, waitHint, b.cfg.Timeout.Duration, interactions)
		challenge := false
		switch {
		case err != nil:
			lastErr = fmt.Errorf("render worker: %w", err)
			b.logger.Warn("render worker failed", "url", url, "attempt", attempt, "error", err)
		case len(bytes.TrimSpace(stdout)) == 0:
			return "", nil, fmt.Errorf("%w for %s", ErrEmptyHTML, url)
		case detectChallenge(stdout):
			challenge = true
			lastErr = fmt.Errorf("%w for %s", ErrChallenge, url)
			b.logger.Warn("challenge page detected", "url", url, "attempt", attempt)
		default:
			return string(stdout), ExtractSideChannel(stderr), nil
		}

		if attempt == b.cfg.MaxRetries {
			break
		}
		// Challenge pages wait twice as long as plain worker failures.
		wait := b.cfg.ChallengeBackoff.Duration / 2
		if challenge {
			wait = b.cfg.ChallengeBackoff.Duration
		}
		wait *= time.Duration(attempt)
		if err := b.sleep(ctx, wait); err != nil {
			return "", nil, err
		}
	}
	return "", nil, lastErr
}

func detectChallenge(html []byte) bool {
	for _, marker := range challengeMarkers {
		if bytes.Contains(html, []byte(marker)) {
			return true
		}
	}
	return false
}

// ExtractSideChannel pulls delimited JSON blocks out of the worker's stderr.
// A single block is returned as-is; multiple blocks are wrapped into a JSON
// array so the caller always receives one valid JSON value.
func ExtractSideChannel(stderr []byte) []byte {
	var blocks [][]byte
	rest := stderr
	for {
		start := bytes.Index(rest, []byte(sideChannelStart))
		if start < 0 {
			break
		}
		rest = rest[start+len(sideChannelStart):]
		end := bytes.Index(rest, []byte(sideChannelEnd))
		if end < 0 {
			break
		}
		block := bytes.TrimSpace(rest[:end])
		if len(block) > 0 {
			blocks = append(blocks, block)
		}
		rest = rest[end+len(sideChannelEnd):]
	}
	switch len(blocks) {
	case 0:
		return nil
	case 1:
		return blocks[0]
	default:
		return bytes.Join([][]byte{[]byte("["), bytes.Join(blocks, []byte(",")), []byte("]")}, nil)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// timeoutMillisArg formats the worker's timeout flag value.
func timeoutMillisArg(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
