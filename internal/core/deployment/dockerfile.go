package deployment

import (
	"fmt"
	"strings"
)

// DockerfileName is the build recipe looked up in a checkout.
const DockerfileName = "Dockerfile"

// GenerateDockerfile renders the Dockerfile used when a repository ships none.
// It installs dependencies with the lockfile-appropriate npm command, runs the
// build script if present and starts the app with npm start.
//
// Example:
//
//	GenerateDockerfile("20-alpine", 3000)
//	// FROM node:20-alpine ... EXPOSE 3000 ... CMD ["npm", "start"]
func GenerateDockerfile(nodeVersion string, appPort int) string {
	if nodeVersion == "" {
		nodeVersion = "20-alpine"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FROM node:%s\n", nodeVersion)
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY package*.json ./\n")
	b.WriteString("RUN if [ -f package-lock.json ]; then npm ci; else npm install; fi\n")
	b.WriteString("COPY . .\n")
	b.WriteString("RUN npm run build --if-present\n")
	fmt.Fprintf(&b, "ENV PORT=%d\n", appPort)
	fmt.Fprintf(&b, "EXPOSE %d\n", appPort)
	b.WriteString(`CMD ["npm", "start"]` + "\n")
	return b.String()
}

// DockerIgnore keeps VCS metadata and local installs out of the build context.
var DockerIgnore = []string{".git", "node_modules"}
