// Package scripting backs the out-of-scope "embedded scripting engine"
// collaborator with github.com/dop251/goja, the JavaScript engine already
// present in this dependency pack (other_examples/manifests/helixml-helix
// depends on it). Running a pipeline's command text as JavaScript instead
// of PowerShell or Python is a deliberate substitution of the concrete
// interpreter named in the original source; the abstract contract — run a
// script body against a facade exposing write_output/write_error/
// write_host and a blocking input iterator — is unchanged.
package scripting

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrCooperativeStop is what Run returns when the script unwound because
// something it called invoked Stop, not because it threw or failed to
// parse. It mirrors the source's reliance on SystemExit to unwind a
// running exec() frame.
var ErrCooperativeStop = errors.New("scripting: cooperative stop")

// SyntaxError wraps a script that failed to compile. The pipeline worker
// maps this to the PSRP error id InvalidScriptSyntax.
type SyntaxError struct {
	msg string
}

func (e *SyntaxError) Error() string { return e.msg }

type stopSignal struct{}

// Stop unwinds the script currently executing on the calling goroutine.
// It must only be called from within a Facade method invoked by that
// script — calling it outside a running script panics with a value
// nothing will ever recover, which is deliberate: it is a programmer
// error, not a runtime condition to handle gracefully.
func Stop() {
	panic(stopSignal{})
}

// Facade exposes whatever globals a script should see. Bind registers
// them into vm; it owns the PSRP-specific shape (cmdlet, print, args,
// params), which this package has no notion of.
type Facade interface {
	Bind(vm *goja.Runtime) error
}

// Engine evaluates script bodies against a Facade.
type Engine struct{}

// New returns a ready Engine.
func New() *Engine {
	return &Engine{}
}

// Run compiles and executes script with facade bound into global scope.
// It returns a *SyntaxError if script fails to compile, ErrCooperativeStop
// (check with errors.Is) if Stop unwound it, or any other error for an
// uncaught script exception.
func (e *Engine) Run(script string, facade Facade) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(stopSignal); ok {
				err = ErrCooperativeStop
				return
			}
			panic(r)
		}
	}()

	prog, compileErr := goja.Compile("pipeline", script, false)
	if compileErr != nil {
		return &SyntaxError{msg: compileErr.Error()}
	}

	vm := goja.New()
	if bindErr := facade.Bind(vm); bindErr != nil {
		return fmt.Errorf("scripting: bind facade: %w", bindErr)
	}

	if _, runErr := vm.RunProgram(prog); runErr != nil {
		if exc, ok := runErr.(*goja.Exception); ok {
			return fmt.Errorf("scripting: uncaught exception: %s", exc.Error())
		}
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			return ErrCooperativeStop
		}
		return runErr
	}
	return nil
}
