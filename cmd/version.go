package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/niktheblak/sensor-node/pkg/ota"
)

// binVersion is set at build time:
// go build -ldflags "-X 'github.com/niktheblak/sensor-node/cmd.binVersion=1.2.3'"
var binVersion = "dev"

func NewVersionCommand() *cobra.Command {
	return versionCommand(viper.GetViper(), afero.NewOsFs())
}

func versionCommand(v *viper.Viper, fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build and firmware version",
		RunE: func(cmd *cobra.Command, args []string) error {
			firmware, err := firmwareVersion(v, fs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nFirmware: %d\n", binVersion, firmware)
			return nil
		},
	}
}

// firmwareVersion is the version of the active slot image, falling back to
// ota.version before the first install.
func firmwareVersion(v *viper.Viper, fs afero.Fs) (int, error) {
	return ota.NewSlots(fs, v.GetString("ota.dir")).Version(v.GetInt("ota.version"))
}
