package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           streamd API
// @version         1.0
// @description     HTTP API for the telemetry-driven LLM pipeline daemon.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
