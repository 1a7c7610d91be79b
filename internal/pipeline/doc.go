/*
Package pipeline executes one management operation as an ordered sequence of
steps across the MODEL, RUNTIME and VERIFY stages, and rolls every completed
step back when the operation fails.

# Execution shape

Steps are queued per stage. A step executing in a stage may queue more steps
for the same stage, which run next, ahead of anything queued before, in the
order they were added; steps queued for a later stage run when that stage
begins. Once every queue is empty the operation reaches DONE, where the model
overlay is committed and persisted.

Each step is given a continuation barrier: Context.CompleteStep runs every
remaining step of the operation, including the commit, and reports whether the
operation kept its changes or is rolling back. A step that installs a service
can therefore call CompleteStep and remove the service again before returning
when a later step vetoed the operation. A step that never calls CompleteStep
gets the same treatment implicitly after Execute returns, and its Undo runs on
rollback.

Undo functions run in strict reverse order of execution because the barrier
calls nest. A failing Undo is recorded and reported as RollbackFailed, which
means the model and the running services may disagree.

# Stage rules

Model mutation (create, remove, read-for-update) is only allowed in MODEL.
Service mutation is only allowed in RUNTIME and VERIFY. Both are allowed while
unwinding. The first service mutation marks the operation as
runtime-affecting, and before VERIFY begins the runner waits for the service
container to settle.
*/
package pipeline
