// Package config loads the expo-container project file and applies
// environment overrides.
//
// The project file is looked up in the working directory under these names,
// first match wins:
//
//	expo-container.yaml
//	expo-container.yml
//	expo-container.jsonc
//	expo-container.json
//
// JSONC files may carry // and /* */ comments and trailing commas; they are
// normalized with github.com/tidwall/jsonc before decoding. YAML is decoded
// with gopkg.in/yaml.v3. Unknown keys are rejected in both formats.
//
// Every field can be overridden by an EXPO_CONTAINER_* environment variable
// (github.com/sethvargo/go-envconfig), e.g. EXPO_CONTAINER_PORT=19000.
// Precedence, lowest first: built-in defaults, project file, environment,
// command-line flags (applied by the CLI).
package config
