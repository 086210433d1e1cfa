// Package hook runs configured external commands around restore operations.
//
// Hooks are argv templates from the config file; placeholders are expanded
// per invocation. How a platform installs a package (pm, adb, apt, a plain
// cp) stays in the operator's hands.
package hook

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/lupppig/appvault/internal/errors"
	"github.com/lupppig/appvault/internal/logger"
)

const defaultTimeout = 2 * time.Minute

// Vars holds the placeholder values substituted into an argv template:
// {package}, {apk} and {user}.
type Vars struct {
	Package string
	APK     string
	User    int
}

// Runner executes the install and uninstall hooks. An empty template makes
// the corresponding hook a no-op.
type Runner struct {
	install   []string
	uninstall []string
	timeout   time.Duration
	log       *logger.Logger
}

func New(install, uninstall []string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Noop()
	}
	return &Runner{
		install:   install,
		uninstall: uninstall,
		timeout:   defaultTimeout,
		log:       log,
	}
}

// WithTimeout bounds each hook invocation.
func (r *Runner) WithTimeout(d time.Duration) *Runner {
	if d > 0 {
		r.timeout = d
	}
	return r
}

func (r *Runner) Install(ctx context.Context, v Vars) error {
	return r.run(ctx, r.install, v)
}

func (r *Runner) Uninstall(ctx context.Context, v Vars) error {
	return r.run(ctx, r.uninstall, v)
}

func (r *Runner) run(ctx context.Context, argv []string, v Vars) error {
	if len(argv) == 0 {
		return nil
	}

	args := Expand(argv, v)
	r.log.Debug("running hook", "argv", strings.Join(args, " "))

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return apperrors.Wrap(err, apperrors.TypeInternal,
			fmt.Sprintf("hook %s failed", args[0]),
			strings.TrimSpace(out.String()))
	}
	return nil
}

// Expand substitutes the placeholder values into an argv template.
func Expand(argv []string, v Vars) []string {
	repl := strings.NewReplacer(
		"{package}", v.Package,
		"{apk}", v.APK,
		"{user}", strconv.Itoa(v.User),
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = repl.Replace(a)
	}
	return out
}
