// Package toolchain implements the provisioner and checker collaborators of the engine on top
// of plain commands.
//
// Commands are described as argument templates. Before running, {version}, {target},
// {project} and {install_dir} are substituted (see Expand). A Runner executes the expanded
// command either on this host (LocalRunner) or on a remote build host (transports/ssh).
//
// The exit status is the only thing interpreted: zero is a pass, anything else a failure
// whose combined output is kept verbatim. Commands that cannot be started or do not finish
// are reported as *engine.ExecutionError, never as a failure.
package toolchain
