// Package logx configures autodaily's structured logging.
//
// Logger is a small value type over zerolog:
//   - console output stays readable (short timestamp and caller)
//   - the optional file sink is JSON
//   - Limited derives a rate-limited logger for warnings that repeat every tick
package logx
