package assets

import "github.com/spaghettifunk/vkguide/engine/assets/loaders"

type Loader interface {
	Load(path string, params interface{}) (*loaders.Resource, error)
	Unload(*loaders.Resource) error
}
