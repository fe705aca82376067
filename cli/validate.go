package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/palisade-labs/chatflow"
	"github.com/palisade-labs/chatflow/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.yaml>",
		Short: "Parse and type-check a pipeline definition without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	defPath := args[0]
	out := cmd.OutOrStdout()

	def, err := loader.Load(defPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", defPath)
		}
		return exitError(exitInputParse, "%v", err)
	}

	pipe, err := loader.Build(def)
	if err != nil {
		var typeErr *chatflow.TypeMismatchError
		if errors.As(err, &typeErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "type chain broken at %v\n", typeErr)
		}
		return exitError(exitValidation, "%v", err)
	}

	chain := make([]string, 0, len(pipe.Steps()))
	for _, step := range pipe.Steps() {
		chain = append(chain, step.Name())
	}
	fmt.Fprintf(out, "pipeline %q is valid: %s\n", def.Name, strings.Join(chain, " -> "))
	return nil
}
