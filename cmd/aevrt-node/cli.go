package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	Listen     string
	NodeID     string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("aevrt-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config)")
	fs.StringVar(&opts.NodeID, "id", "", "Node identifier (overrides config)")
	_ = fs.Parse(args)
	return opts
}
