// Package types provides shared data structures for browserd.
//
// This package defines the wire-level types used across components,
// ensuring consistent envelopes on both the REST and websocket surfaces.
//
// Core Types:
//   - Result: Standard operation result envelope
//   - AutomationEvent: Events broadcast to session viewers
//   - UserCommand: Browser commands issued by a viewer in control
//
// Example Usage:
//
//	c.JSON(http.StatusOK, types.Success(map[string]interface{}{
//	    "sessionId": sessionID,
//	}))
package types
