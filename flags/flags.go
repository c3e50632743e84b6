package flags

import (
	"strings"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"

	Python          = "python"
	ModelDiffScript = "model-diff"
	PplModule       = "ppl-module"
)

// Install registers the global flags on the given set (the root command's
// persistent flags) and binds them to viper, so QUANTBENCH_* environment
// variables work as overrides.
func Install(flags *flag.FlagSet) {
	flags.String(LogFormat, "text", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")

	flags.String(Python, "python3", "python interpreter used to run the external tooling")
	flags.String(ModelDiffScript, "model_diff.py", "path to the model diff tool")
	flags.String(PplModule, "exllamav3.ppl_layer", "python module computing perplexity")

	viper.SetEnvPrefix("quantbench")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}
