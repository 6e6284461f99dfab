package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/patchbay/internal/catalog"
	"github.com/dyluth/patchbay/internal/printer"
)

var outputsAll bool

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List hardware outputs that routes can target",
	Args:  cobra.NoArgs,
	RunE:  runOutputs,
}

func init() {
	outputsCmd.Flags().BoolVarP(&outputsAll, "all", "a", false, "List every output identifier")
	rootCmd.AddCommand(outputsCmd)
}

func runOutputs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cats, err := loadCatalogs(cfg)
	if err != nil {
		return err
	}

	if outputsAll {
		for _, id := range cats.outputs.All() {
			printer.Println(id)
		}
		return nil
	}

	var rows [][]string
	for _, f := range cats.outputs.Families() {
		rows = append(rows, []string{f.Name, string(f.Kind), familyRange(f)})
	}
	printer.Table([]string{"FAMILY", "KIND", "OUTPUTS"}, rows)
	return nil
}

func familyRange(f catalog.Family) string {
	if f.Kind == catalog.FamilyMulti {
		return fmt.Sprintf("%s#1.out#1 .. %s#%d.out#%d", f.Prefix, f.Prefix, f.Units, f.Channels)
	}
	return fmt.Sprintf("%s#1 .. %s#%d", f.Prefix, f.Prefix, f.Count)
}
