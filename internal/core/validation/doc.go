// Package validation provides pure validation functions for API handlers
// and the project registry.
//
// All functions are pure (no I/O, no side effects). Field validators return an
// empty message when the value is acceptable; composite validators return the
// offending field name alongside the message.
//
// # Functions
//
//   - ValidateCreateProjectFields: Validate project creation arguments
//   - ValidateProjectConfig: Validate a full config replacement
//   - CanApprove: Check that test has an active deployment to promote
//   - CanDeleteContainer: Check that a container is not running
//
// # Usage
//
//	if field, msg := validation.ValidateCreateProjectFields(args); field != "" {
//	    // Return 400 Bad Request with msg
//	}
package validation
