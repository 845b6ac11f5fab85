package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"venuebot/pkg/logx"
)

// Renewer exchanges credentials for a fresh portal cookie.
//
// The concrete implementation drives a browser login flow, which is fragile
// and environment-coupled; keeping it behind this interface keeps it out of
// the engine's testable surface. Errors may be *MFAError when the flow hits
// a multi-factor challenge that only a human can answer.
type Renewer interface {
	Renew(ctx context.Context, accountID, secret string) (cookie string, err error)
}

// HelperRenewer runs an external login helper process.
//
// Credentials are handed over via environment (VENUEBOT_ACCOUNT and
// VENUEBOT_SECRET) so the secret never shows up in a process listing. The
// helper prints a single JSON object on stdout:
//
//	{"status":"success","cookie":"..."}
//	{"status":"mfa_required","detail":"..."}
//	{"status":"error","detail":"..."}
type HelperRenewer struct {
	Argv    []string
	Timeout time.Duration // default 2m; browser logins are slow
	Log     logx.Logger
}

func (h *HelperRenewer) Renew(ctx context.Context, accountID, secret string) (string, error) {
	if len(h.Argv) == 0 {
		return "", errors.New("login helper not configured")
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, h.Argv[0], h.Argv[1:]...)
	cmd.Env = append(os.Environ(),
		"VENUEBOT_ACCOUNT="+accountID,
		"VENUEBOT_SECRET="+secret,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h.Log.Info("running login helper", logx.String("helper", h.Argv[0]))
	runErr := cmd.Run()

	var out struct {
		Status string `json:"status"`
		Cookie string `json:"cookie"`
		Detail string `json:"detail"`
	}
	// The helper may exit non-zero AND still report a structured failure;
	// prefer the structured report when stdout parses.
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		if runErr != nil {
			return "", fmt.Errorf("login helper failed: %w (stderr: %s)", runErr, truncateOneLine(stderr.String(), 200))
		}
		return "", fmt.Errorf("login helper output not understood: %w", err)
	}

	switch strings.ToLower(out.Status) {
	case "success":
		if strings.TrimSpace(out.Cookie) == "" {
			return "", errors.New("login helper reported success without a cookie")
		}
		return out.Cookie, nil
	case "mfa_required":
		return "", &MFAError{Detail: out.Detail}
	default:
		return "", fmt.Errorf("login helper error: %s", out.Detail)
	}
}

func truncateOneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}
