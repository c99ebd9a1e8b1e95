// Package psrpoutofprocserver hosts the server side of PSRP's
// out-of-process transport: a single client drives one runspace pool and
// its pipelines over stdio or a local named pipe, using the
// <Data>/<Command>/<Signal>/<Close> envelope grammar instead of
// WSMan/WinRM.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│  cmd/psrp-outofproc-server   CLI entrypoint              │
//	├─────────────────────────────────────────────────────────┤
//	│  internal/server   Transport, runspace + pipeline workers│
//	├─────────────────────────────────────────────────────────┤
//	│  internal/hostcall  synchronous PSHost surface           │
//	│  internal/scripting goja-backed script executor          │
//	│  internal/wireframe envelope codec + byte connection      │
//	│  internal/pipename  default pipe path derivation          │
//	├─────────────────────────────────────────────────────────┤
//	│  go-psrpcore/server   Sans-IO PSRP server protocol        │
//	│                       (external)                         │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	psrp-outofproc-server              # serves over stdio
//	psrp-outofproc-server -pipe        # serves over the default named pipe
package psrpoutofprocserver
