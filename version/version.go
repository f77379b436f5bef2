package version

// RootCmdVersion is reported by the root command's --version flag.
var RootCmdVersion string = "0.2.0"

// CfgVersion is the config schema version a config file must declare to be usable.
var CfgVersion int = 1
