// Command quantpipe is the operational CLI for the pipeline engine: it
// inspects workflow progress, the gate audit trail, and the dead-letter
// queue, and manages the configuration file. Workflow execution itself is
// embedded by the host process through the workflow package.
package main
