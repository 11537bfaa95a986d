package version

// Version is the current version of the Warpcall CLI, reported by
// "warpcall --version". Release builds override it with:
//
//	go build -ldflags="-X 'github.com/BioHazard786/Warpcall/internal/version.Version=v1.0.0'"
var Version = "dev"
