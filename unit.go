// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

// Unit is the empty input of a request closure: once [Apply] has bound a
// [*RequestInfo] to the executor, nothing else needs to be passed in.
type Unit struct{}
