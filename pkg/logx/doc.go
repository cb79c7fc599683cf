// Package logx configures lanerunner's structured logging.
//
// Components log through logx.Logger, a small value type on top of zerolog:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional chat sink (min-level + rate limiting), fed by the Telegram
//     control surface
package logx
