package server

import (
	"github.com/dop251/goja"
	psrpcore "github.com/smnsjas/go-psrpcore/server"

	"github.com/smnsjas/psrp-outofproc-server/internal/hostcall"
	"github.com/smnsjas/psrp-outofproc-server/internal/scripting"
)

// pipelineOps is the slice of Pipeline the Cmdlet Facade touches. Taking
// it as an interface narrower than Pipeline lets Transport hand the
// facade a codec-mutex-guarded wrapper (see guardedPipeline in
// pipeline_worker.go) instead of the raw codec object, and lets tests supply a
// bare fake with none of Pipeline's other methods.
type pipelineOps interface {
	State() psrpcore.PSInvocationState
	WriteOutput(obj interface{})
	WriteError(opts psrpcore.WriteErrorOptions)
}

// CmdletFacade is the script-visible collaborator described by the
// source's PSCmdlet dataclass: writeOutput/writeError/writeHost, the
// pipeline's input stream, its positional and named parameters, and the
// Host Facade. It reshapes that dataclass into a goja object, binding
// "cmdlet" and a "print" alias for writeHost the same way the source's
// exec() globals bind "print" to write_host.
type CmdletFacade struct {
	pipeline pipelineOps
	host     *hostcall.Facade
	input    *inputBuffer
	args     []interface{}
	params   map[string]interface{}
}

func newCmdletFacade(pipeline pipelineOps, host *hostcall.Facade, input *inputBuffer, args []interface{}, params map[string]interface{}) *CmdletFacade {
	return &CmdletFacade{pipeline: pipeline, host: host, input: input, args: args, params: params}
}

func (c *CmdletFacade) running() bool {
	return c.pipeline.State() == psrpcore.PSInvocationRunning
}

func (c *CmdletFacade) stopIfNotRunning() bool {
	if c.running() {
		return false
	}
	scripting.Stop()
	return true
}

func (c *CmdletFacade) writeOutput(obj interface{}) {
	if c.stopIfNotRunning() {
		return
	}
	c.pipeline.WriteOutput(obj)
}

// writeErrorArgs mirrors the source's write_error keyword arguments:
// message plus the handful of ErrorRecord fields a script can set.
type writeErrorArgs struct {
	Message               string      `goja:"message"`
	TargetObject          interface{} `goja:"targetObject"`
	Category              string      `goja:"category"`
	CategoryTargetName    string      `goja:"categoryTargetName"`
	CategoryTargetType    string      `goja:"categoryTargetType"`
	RecommendedAction     string      `goja:"recommendedAction"`
	FullyQualifiedErrorID string      `goja:"fullyQualifiedErrorId"`
}

func (c *CmdletFacade) writeError(args writeErrorArgs) {
	if c.stopIfNotRunning() {
		return
	}
	opts := psrpcore.WriteErrorOptions{
		Exception:             newWriteErrorException(args.Message),
		TargetObject:          args.TargetObject,
		FullyQualifiedErrorID: fqidOrDefault(args.FullyQualifiedErrorID),
		CategoryInfo: psrpcore.ErrorCategoryInfo{
			Category:   categoryFromName(args.Category),
			TargetName: args.CategoryTargetName,
			TargetType: args.CategoryTargetType,
		},
	}
	if args.RecommendedAction != "" {
		opts.ErrorDetails = &psrpcore.ErrorDetails{
			Message:           args.Message,
			RecommendedAction: args.RecommendedAction,
		}
	}
	c.pipeline.WriteError(opts)
}

func (c *CmdletFacade) writeHost(line string) {
	if c.stopIfNotRunning() {
		return
	}
	if err := c.host.WriteLine(line); err != nil {
		panic(err)
	}
}

func (c *CmdletFacade) promptForCredential(caption, message string, username, targetName *string) interface{} {
	if c.stopIfNotRunning() {
		return nil
	}
	v, err := c.host.PromptForCredential(caption, message, username, targetName)
	if err != nil {
		panic(err)
	}
	return v
}

// inputNext implements the JS iterator protocol ({value, done}) backed by
// the pipeline's inputBuffer, so a script can do `while (true) { const {
// value, done } = cmdlet.input.next(); if (done) break; ... }`.
func (c *CmdletFacade) inputNext() map[string]interface{} {
	v, ok := c.input.Next(func() bool { return !c.running() })
	if !ok {
		if !c.running() {
			scripting.Stop()
		}
		return map[string]interface{}{"done": true}
	}
	return map[string]interface{}{"value": v, "done": false}
}

// Bind implements scripting.Facade.
func (c *CmdletFacade) Bind(vm *goja.Runtime) error {
	cmdletObj := vm.NewObject()
	if err := cmdletObj.Set("writeOutput", c.writeOutput); err != nil {
		return err
	}
	if err := cmdletObj.Set("writeError", c.writeError); err != nil {
		return err
	}
	if err := cmdletObj.Set("writeHost", c.writeHost); err != nil {
		return err
	}
	if err := cmdletObj.Set("args", c.args); err != nil {
		return err
	}
	if err := cmdletObj.Set("params", c.params); err != nil {
		return err
	}

	inputObj := vm.NewObject()
	if err := inputObj.Set("next", c.inputNext); err != nil {
		return err
	}
	if err := cmdletObj.Set("input", inputObj); err != nil {
		return err
	}

	hostObj := vm.NewObject()
	if err := hostObj.Set("writeLine", c.writeHost); err != nil {
		return err
	}
	if err := hostObj.Set("promptForCredential", c.promptForCredential); err != nil {
		return err
	}
	if err := cmdletObj.Set("host", hostObj); err != nil {
		return err
	}

	if err := vm.Set("cmdlet", cmdletObj); err != nil {
		return err
	}
	return vm.Set("print", c.writeHost)
}

func fqidOrDefault(id string) string {
	if id != "" {
		return id
	}
	return "ScriptWriteError"
}

func categoryFromName(name string) psrpcore.ErrorCategory {
	switch name {
	case "ParserError":
		return psrpcore.CategoryParserError
	case "ReadError":
		return psrpcore.CategoryReadError
	default:
		return psrpcore.CategoryNotSpecified
	}
}

// newWriteErrorException builds the .NET-typed exception every
// write_error call carries, the Go shape of the source's PSType-tagged
// WriteErrorException class.
func newWriteErrorException(message string) *psrpcore.NETException {
	return &psrpcore.NETException{Message: message}
}
