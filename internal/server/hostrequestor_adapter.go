package server

import "github.com/smnsjas/psrp-outofproc-server/internal/hostcall"

// hostRequestorAdapter narrows a codec HostRequestor (which takes
// optional console-color arguments this server never sets) down to the
// hostcall.Requestor shape the Host Facade depends on.
type hostRequestorAdapter struct {
	inner HostRequestor
}

func newHostRequestorAdapter(inner HostRequestor) hostcall.Requestor {
	return &hostRequestorAdapter{inner: inner}
}

func (a *hostRequestorAdapter) WriteLine(line string) (int64, error) {
	return a.inner.WriteLine(line, nil, nil)
}

func (a *hostRequestorAdapter) PromptForCredential(caption, message string, username, targetName *string) (int64, error) {
	return a.inner.PromptForCredential(caption, message, username, targetName)
}
