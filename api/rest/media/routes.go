package media

import "github.com/gin-gonic/gin"

// registers image search under the api group
func RegisterRoutes(router *gin.RouterGroup, source CandidateSource, ledger TrackerSource) {
	router.GET("/images/search", SearchHandler(source, ledger))
}

// registers the image proxy at the root, where resolved slide images point
func RegisterProxyRoutes(router gin.IRoutes, fetcher ImageFetcher) {
	router.GET("/image-proxy", ProxyHandler(fetcher))
}
