package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/grammar"
	"github.com/dyluth/patchbay/internal/printer"
)

var (
	validateJSON     bool
	validateVariable bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <command>",
	Short: "Check a chat command against the grammar and module catalog",
	Long: `Validate a chat command without sending anything.

The command is checked exactly as the serve pipeline checks chat messages:
grammar, module catalog, inputJack fallback and the 0-127 value range.
Jack sequencing and rate limits are runtime state and are not checked.

Examples:
  patchbay validate "doorway#1.threshold: 89"
  patchbay validate --json "cadet1#2.inputJack#1: 64"
  patchbay validate --variable "esg3#1.hue"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the parsed command as JSON")
	validateCmd.Flags().BoolVar(&validateVariable, "variable", false, "Validate a routing variable (no value)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cats, err := loadCatalogs(cfg)
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")

	if validateVariable {
		variable, err := cats.validator.ParseVariable(text)
		if err != nil {
			return printer.Error("invalid routing variable", err.Error(), nil)
		}
		printer.Success("%s is routable\n", variable.FullVariable)
		return nil
	}

	result := cats.validator.Validate(text)
	if !result.Valid() {
		return printer.ErrorWithContext(
			"invalid command",
			fmt.Sprintf("%q was rejected", text),
			map[string]string{"Reason": result.Reason.String()},
			suggestionsFor(result.Reason),
		)
	}

	c := result.Command
	if validateJSON {
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode command: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	printer.Success("%s = %d (%.3fV)\n", c.FullVariable, c.Value, c.Voltage())
	printer.Table([]string{"MODULE", "INSTANCE", "CV INPUT", "INPUT JACK"}, [][]string{{
		c.ModuleName,
		fmt.Sprint(c.Instance),
		c.Parameter,
		fmt.Sprint(c.IsInputJack),
	}})
	return nil
}

func suggestionsFor(reason grammar.Reason) []string {
	switch reason {
	case grammar.ReasonOutOfRange:
		return []string{"Values must be between 0 and 127"}
	case grammar.ReasonUnknownVariable:
		return []string{"Check the parameter name against the module catalog, or use module#N.inputJack#J"}
	case grammar.ReasonNoNativeCV:
		return []string{"This module has no CV parameters; address it as module#N.inputJack#J"}
	default:
		return []string{"Commands look like: module#instance.parameter: value"}
	}
}
