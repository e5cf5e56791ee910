package loaders

type ResourceType int

const (
	ResourceTypeNone ResourceType = iota
	ResourceTypeBinary
	ResourceTypeImage
	ResourceTypeShader
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeShader:
		return "shader"
	default:
		return "none"
	}
}

// Resource is the result of a load. The concrete type of Data depends on the loader.
type Resource struct {
	Name     string
	FullPath string
	Type     ResourceType
	DataSize uint64
	Data     interface{}
}
