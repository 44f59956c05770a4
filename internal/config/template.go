package config

import _ "embed"

// Example is the annotated config written by "papercast init".
//
//go:embed papercast.example.yml
var Example []byte
