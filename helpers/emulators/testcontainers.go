package emulators

// ImageContainer describes the image and ports of an emulator container.
type ImageContainer struct {
	EmulatorImage    string
	EmulatorHTTPPort string
	EmulatorGRPCPort string
}

// GCImageContainer is an emulator of a Google Cloud service.
type GCImageContainer struct {
	ImageContainer
	ProjectID       string
	SetEnvVariables bool
}

// EmulatorConnection is the address a started emulator listens on.
type EmulatorConnection struct {
	EmulatorAddress string
}
