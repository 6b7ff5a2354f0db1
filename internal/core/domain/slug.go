package domain

import "strings"

// MaxSlugLength keeps slugs usable as a single DNS label.
const MaxSlugLength = 63

// Slugify converts a free-form name into a project name candidate: lowercase
// ASCII letters and digits separated by single hyphens, at most
// MaxSlugLength characters.
//
// Spaces, underscores, dots, slashes and hyphens act as separators; any
// other character is dropped.
//
// Example:
//
//	Slugify("My App")           // returns "my-app"
//	Slugify("api_server.v2")    // returns "api-server-v2"
//	Slugify("--Hello,  World--") // returns "hello-world"
func Slugify(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			r += 'a' - 'A'
			fallthrough
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '.' || r == '/':
			pendingSep = true
		}
	}

	slug := b.String()
	if len(slug) > MaxSlugLength {
		slug = strings.TrimRight(slug[:MaxSlugLength], "-")
	}
	return slug
}
