// SPDX-License-Identifier: GPL-2.0-or-later

package capture

import "time"

// clockBase anchors nowNanosec; time.Since reads the monotonic clock.
var clockBase = time.Now()

// nowNanosec returns monotonic nanoseconds elapsed since package
// initialization. Producers that pass a zero timestamp get stamped
// with this clock at enqueue time.
func nowNanosec() uint64 {
	return uint64(time.Since(clockBase))
}
