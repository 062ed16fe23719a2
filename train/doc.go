// Package train fits a splat store to posed images: loss and gradients via
// the differentiable renderer, per-group Adam updates, periodic refinement
// (grow and prune), evaluation and export. The Process type wraps the loop
// in a pausable state machine fed by a prefetching dataloader.
package train
