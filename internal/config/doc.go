// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is layered. Later sources win:
//
//  1. Built-in defaults
//  2. An optional config file (TOML, or YAML for .yaml/.yml)
//  3. Non-empty environment variables
//
// # Configuration File
//
// Location (in order):
//
//  1. Path from COVEN_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/relay.toml, or ~/.config/coven/relay.toml, if it exists
//
// Running without a file is normal; everything can come from the environment.
//
// # Environment Variable Expansion
//
// File values can reference environment variables:
//
//	[openai]
//	api_key = "${OPENAI_API_KEY}"
//
// # Sections
//
//	[matrix]
//	homeserver = "https://matrix.example.org"
//	user_id = "@relay:example.org"
//	access_token = "${MATRIX_ACCESS_TOKEN}"
//	encryption = false
//	allowed_rooms = []
//
//	[gpt]
//	model = "gpt-3.5-turbo"
//	image_model = "dall-e-2"
//	system_desc = "none"   # disables the system message
//	image_size = "512x512"
//
//	[history]
//	expires_in = 900  # seconds
//	size = 3          # exchanges kept per thread
//
// # Usage
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    return err
//	}
package config
