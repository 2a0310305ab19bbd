package extract

import "errors"

var errEmptyResponse = errors.New("empty response from model")
