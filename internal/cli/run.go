package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forPelevin/hlfeed/internal/pipeline"
)

// withApp opens the app for one command and closes it afterwards.
func (s *state) withApp(cmd *cobra.Command, opts pipeline.Options, fn func(app *pipeline.App) error) error {
	app, err := pipeline.Open(cmd.Context(), s.cfg, s.log, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			s.log.Warn("Close failed", "error", cerr)
		}
	}()
	return fn(app)
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
