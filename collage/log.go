package collage

// Logging convention in the `collage` package and generally for collage sync components:
// Info:
//     essential events for abnormal behavior. This level should be silent on normal operation,
//     with the exception of one time (infrequent) initialization data that is useful for monitoring
//     this includes:
//     - channel drops and subscribe failures
//     - poll fetch failures
//     - best-effort storage cleanup failures
// Error:
//     unrecoverable crash details
//     this includes:
//     - unexpected panics even if handled and suppressed for partial operation
// Debug (V(2)):
//     key events for trace debugging and statistics
//     this includes:
//     - per event apply - insert, update, delete - with ids that can be used to filter
//     - connect/disconnect cycles and poll ticks
