/*
SPDX-License-Identifier: Apache-2.0

Copyright 2025 ConfigButler

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package git

import (
	"fmt"
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
var unsafeEmailCharsRe = regexp.MustCompile(`[^a-z0-9.\-]`)

// constructSafeEmail turns an arbitrary caller-supplied username into a
// git-compliant commit author address, passing an already-valid address
// through unchanged and falling back to "unknown-user" when sanitization
// leaves an empty string.
func constructSafeEmail(username, domain string) string {
	if emailRe.MatchString(username) {
		return username
	}

	clean := strings.ToLower(username)
	clean = unsafeEmailCharsRe.ReplaceAllString(clean, "")
	if clean == "" {
		clean = "unknown-user"
	}
	return fmt.Sprintf("%s@noreply.%s", clean, domain)
}
