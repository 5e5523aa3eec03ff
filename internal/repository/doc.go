// Package repository gives the agent read access to source repositories.
//
// A Descriptor names the code universe: a URL, a branch and the source
// folder inside it. An Accessor lists the source files under that folder and
// fetches their content on demand. Three accessors are provided and a Router
// selects one by URL scheme:
//
//   - file://   reads a local checkout (LocalAccessor)
//   - https://  clones with go-git into a work directory (GitAccessor)
//   - github:// reads through the GitHub REST API (GitHubAccessor)
//
// # Security
//
//   - Paths are cleaned and must stay inside the repository root
//   - Files above the size limit are skipped
//   - Binary files (invalid UTF-8) and media files are skipped
//   - Credentials are carried in context and never logged
//
// # Usage
//
//	router := repository.NewRouter(repository.Options{WorkDir: dir})
//	desc := repository.Descriptor{URL: "file:///src/app", SrcFolder: "src"}
//	paths, err := router.ListFiles(ctx, desc)
//	if err != nil {
//	    return err
//	}
//	content, err := router.GetContent(ctx, desc, paths[0])
//
// Returned paths are relative to the repository root, slash separated, and
// always begin with the source folder.
package repository
